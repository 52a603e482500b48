package repo

import (
	"context"
	"errors"

	"github.com/shaiso/batchflow/internal/domain"
)

// RunStore — операции над runs, нужные Recorder.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, pipeline, key string) (*domain.Run, error)
}

// StepStore — операции над шагами, нужные Recorder.
type StepStore interface {
	Upsert(ctx context.Context, step *domain.StepRun) error
}

// Recorder записывает историю выполнения в БД.
// Реализует orchestrator.Store.
type Recorder struct {
	pipeline string
	runs     RunStore
	steps    StepStore
}

// NewRecorder создаёт Recorder для pipeline.
func NewRecorder(pipeline string, runs RunStore, steps StepStore) *Recorder {
	return &Recorder{pipeline: pipeline, runs: runs, steps: steps}
}

// CreateRun сохраняет новый run.
func (r *Recorder) CreateRun(ctx context.Context, run *domain.Run) error {
	return r.runs.Create(ctx, run)
}

// UpdateRun сохраняет статус run.
func (r *Recorder) UpdateRun(ctx context.Context, run *domain.Run) error {
	return r.runs.Update(ctx, run)
}

// SaveStep сохраняет состояние шага.
func (r *Recorder) SaveStep(ctx context.Context, step *domain.StepRun) error {
	return r.steps.Upsert(ctx, step)
}

// FindRunByIdempotencyKey возвращает run с ключом или (nil, nil), если его нет.
func (r *Recorder) FindRunByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	run, err := r.runs.GetByIdempotencyKey(ctx, r.pipeline, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}
