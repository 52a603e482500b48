package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/batchflow/internal/domain"
)

// runColumns — колонки runs в порядке scanRun.
const runColumns = `id, pipeline, trigger, trigger_time, status, started_at, finished_at,
		       failed_step, error, idempotency_key, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (id, pipeline, trigger, trigger_time, status, started_at, finished_at,
		                  failed_step, error, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Pipeline,
		run.Trigger,
		run.TriggerTime,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.FailedStep),
		nullString(run.Error),
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert run: %w", ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, pipeline, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE pipeline = $1 AND idempotency_key = $2`
	return scanRun(r.pool.QueryRow(ctx, query, pipeline, key))
}

// LastScheduled возвращает последний run, созданный планировщиком.
func (r *RunRepo) LastScheduled(ctx context.Context, pipeline string) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE pipeline = $1 AND trigger = 'SCHEDULED'
		ORDER BY trigger_time DESC
		LIMIT 1
	`
	return scanRun(r.pool.QueryRow(ctx, query, pipeline))
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR pipeline = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Pipeline),
		nullString(string(filter.Status)),
		filter.limit(),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update обновляет изменяемые поля run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4, failed_step = $5, error = $6
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.FailedStep),
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

// Лимиты выборки List.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Pipeline string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// limit возвращает Limit в допустимых границах.
func (f RunFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// scanRun сканирует одну строку в Run.
// pgx.Rows тоже реализует pgx.Row.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var failedStep, runError, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.Pipeline,
		&run.Trigger,
		&run.TriggerTime,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&failedStep,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.FailedStep = derefString(failedStep)
	run.Error = derefString(runError)
	run.IdempotencyKey = derefString(idempotencyKey)

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString возвращает "" для NULL.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
