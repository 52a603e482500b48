package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/orchestrator"
	"github.com/shaiso/batchflow/internal/repo"
	"github.com/shaiso/batchflow/internal/telemetry"
)

// Orchestrator — операции над runs, доступные через API.
type Orchestrator interface {
	Pipeline() string
	TriggerRun(ctx context.Context, trigger domain.Trigger) (uuid.UUID, error)
	GetRunStatus(runID uuid.UUID) (*orchestrator.RunSnapshot, error)
	ListRuns(limit int) []*orchestrator.RunSnapshot
	Cancel(runID uuid.UUID, reason string) error
	Steps() []domain.StepDef
	ActiveRunsCount() int
}

// RunHistory — история runs в БД.
type RunHistory interface {
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// StepHistory — история шагов в БД.
type StepHistory interface {
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.StepRun, error)
}

// HealthCheck — проверка зависимости для /healthz.
type HealthCheck func(ctx context.Context) error

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orchestrator Orchestrator
	runs         RunHistory
	steps        StepHistory
	metricsPage  http.Handler
	metrics      *telemetry.Metrics
	checks       map[string]HealthCheck
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator Orchestrator

	// Runs, Steps — история из БД (опционально).
	// Без них список runs берётся из памяти оркестратора.
	Runs  RunHistory
	Steps StepHistory

	// MetricsHandler — обработчик /metrics (опционально).
	MetricsHandler http.Handler

	// Metrics — счётчики запросов API (опционально).
	Metrics *telemetry.Metrics

	// HealthChecks — проверки зависимостей (database, broker).
	HealthChecks map[string]HealthCheck

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orchestrator: cfg.Orchestrator,
		runs:         cfg.Runs,
		steps:        cfg.Steps,
		metricsPage:  cfg.MetricsHandler,
		metrics:      cfg.Metrics,
		checks:       cfg.HealthChecks,
		logger:       logger,
	}
}
