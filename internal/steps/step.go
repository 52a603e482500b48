package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/engine"
)

// Ошибки шагов.
var (
	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrNoOutput — шаг не вывел ничего, что можно передать дальше.
	ErrNoOutput = errors.New("step produced no output")
)

// Step — действие шага pipeline.
//
// Каждое действие — вызов внешней системы (процесс, объектное хранилище, warehouse).
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет шаг и возвращает его output.
	// При ошибке Response может содержать частичный output для диагностики.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// StepID — идентификатор шага.
	StepID string

	// RunID — идентификатор run.
	RunID uuid.UUID

	// StartedAt — время начала run.
	StartedAt time.Time

	// Handoffs — output предыдущих шагов этого run на момент dispatch.
	Handoffs engine.HandoffView
}

// NewRequest создаёт новый Request.
func NewRequest(stepID string, runID uuid.UUID, startedAt time.Time, handoffs engine.HandoffView) *Request {
	return &Request{
		StepID:    stepID,
		RunID:     runID,
		StartedAt: startedAt,
		Handoffs:  handoffs,
	}
}

// StartTimestamp возвращает start timestamp run в формате domain.StartTimestampLayout.
func (r *Request) StartTimestamp() string {
	return r.StartedAt.UTC().Format(domain.StartTimestampLayout)
}

// Input возвращает output шага stepID.
func (r *Request) Input(stepID string) (string, error) {
	value, err := r.Handoffs.Require(stepID)
	if err != nil {
		return "", fmt.Errorf("step %s: %w", r.StepID, err)
	}
	return value, nil
}

// Response — результат выполнения шага.
type Response struct {
	// Output — handoff-значение шага.
	Output string
}

// NewResponse создаёт Response с output.
func NewResponse(output string) *Response {
	return &Response{Output: output}
}

// checkContext возвращает ErrStepCancelled, если ctx уже отменён.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	default:
		return nil
	}
}
