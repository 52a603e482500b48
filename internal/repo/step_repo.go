package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/batchflow/internal/domain"
)

// StepRepo — репозиторий состояний шагов (run_steps).
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// Upsert сохраняет текущее состояние шага.
func (r *StepRepo) Upsert(ctx context.Context, step *domain.StepRun) error {
	query := `
		INSERT INTO run_steps (run_id, step_id, position, status, attempts, output, error,
		                       started_at, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (run_id, step_id) DO UPDATE
		SET status = EXCLUDED.status,
		    attempts = EXCLUDED.attempts,
		    output = EXCLUDED.output,
		    error = EXCLUDED.error,
		    started_at = EXCLUDED.started_at,
		    finished_at = EXCLUDED.finished_at,
		    updated_at = now()
	`
	_, err := r.pool.Exec(ctx, query,
		step.RunID,
		step.StepID,
		step.Position,
		step.Status,
		step.Attempts,
		nullString(step.Output),
		nullString(step.Error),
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert step %s: %w", step.StepID, err)
	}
	return nil
}

// ListByRun возвращает шаги run в порядке pipeline.
func (r *StepRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.StepRun, error) {
	query := `
		SELECT run_id, step_id, position, status, attempts, output, error, started_at, finished_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.StepRun
	for rows.Next() {
		var step domain.StepRun
		var output, stepError *string

		if err := rows.Scan(
			&step.RunID,
			&step.StepID,
			&step.Position,
			&step.Status,
			&step.Attempts,
			&output,
			&stepError,
			&step.StartedAt,
			&step.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}

		step.Output = derefString(output)
		step.Error = derefString(stepError)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
