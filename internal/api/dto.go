package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/orchestrator"
)

// CreateRunRequest — запрос на ручной запуск pipeline.
type CreateRunRequest struct {
	// IdempotencyKey — повторный запрос с тем же ключом вернёт существующий run.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CancelRunRequest — запрос на отмену run.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID              uuid.UUID         `json:"id"`
	Pipeline        string            `json:"pipeline"`
	Trigger         string            `json:"trigger"`
	TriggerTime     time.Time         `json:"trigger_time"`
	Status          string            `json:"status"`
	StartTimestamp  string            `json:"start_timestamp,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Duration        string            `json:"duration,omitempty"`
	FailedStep      string            `json:"failed_step,omitempty"`
	Error           string            `json:"error,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Steps           []StepRunResponse `json:"steps,omitempty"`
}

// StepRunResponse — состояние шага внутри run.
type StepRunResponse struct {
	StepID     string     `json:"step_id"`
	Position   int        `json:"position"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepDefResponse — определение шага pipeline.
type StepDefResponse struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Retries    int      `json:"retries"`
	RetryDelay string   `json:"retry_delay"`
}

// RunToResponse преобразует domain.Run в RunResponse.
func RunToResponse(r *domain.Run, steps []domain.StepRun) RunResponse {
	resp := RunResponse{
		ID:             r.ID,
		Pipeline:       r.Pipeline,
		Trigger:        string(r.Trigger),
		TriggerTime:    r.TriggerTime,
		Status:         string(r.Status),
		StartTimestamp: r.StartTimestamp(),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		FailedStep:     r.FailedStep,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
	if d := r.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	if len(steps) > 0 {
		resp.Steps = make([]StepRunResponse, len(steps))
		for i := range steps {
			resp.Steps[i] = StepRunToResponse(&steps[i])
		}
	}
	return resp
}

// SnapshotToResponse преобразует снимок оркестратора в RunResponse.
func SnapshotToResponse(s *orchestrator.RunSnapshot) RunResponse {
	return RunToResponse(&s.Run, s.Steps)
}

// StepRunToResponse преобразует domain.StepRun в StepRunResponse.
func StepRunToResponse(s *domain.StepRun) StepRunResponse {
	return StepRunResponse{
		StepID:     s.StepID,
		Position:   s.Position,
		Status:     string(s.Status),
		Attempts:   s.Attempts,
		Output:     s.Output,
		Error:      s.Error,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}

// StepDefToResponse преобразует domain.StepDef в StepDefResponse.
func StepDefToResponse(d domain.StepDef) StepDefResponse {
	return StepDefResponse{
		ID:         d.ID,
		Type:       d.Type,
		DependsOn:  d.DependsOn,
		Retries:    d.Retry.Retries,
		RetryDelay: d.Retry.Delay.String(),
	}
}
