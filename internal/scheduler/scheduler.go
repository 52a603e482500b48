package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/repo"
)

// defaultInterval — период тиков по умолчанию.
const defaultInterval = time.Second

// Triggerer запускает run.
type Triggerer interface {
	TriggerRun(ctx context.Context, trigger domain.Trigger) (uuid.UUID, error)
}

// History — история scheduled runs.
type History interface {
	// LastScheduled возвращает последний scheduled run или repo.ErrNotFound.
	LastScheduled(ctx context.Context, pipeline string) (*domain.Run, error)
}

// Locker — leader election между экземплярами.
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler запускает pipeline по расписанию.
type Scheduler struct {
	schedule  domain.Schedule
	triggerer Triggerer
	history   History
	locker    Locker
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	initialized bool
	mu          sync.Mutex
}

// Config — конфигурация Scheduler.
type Config struct {
	// Pipeline — имя pipeline (часть idempotency key).
	Pipeline string

	// CronExpr — cron-выражение или дескриптор (например, "@monthly").
	CronExpr string

	// Timezone — часовой пояс расписания (default: UTC).
	Timezone string

	// Triggerer — кто запускает runs.
	Triggerer Triggerer

	// History — для продолжения после рестарта (опционально).
	History History

	// Locker — leader election (опционально, без него планирует всегда).
	Locker Locker

	// Interval — период тиков (default: 1s).
	Interval time.Duration

	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Triggerer == nil {
		return nil, errors.New("scheduler: triggerer is required")
	}
	if err := ValidateCronExpr(cfg.CronExpr); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timezone := cfg.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedule: domain.Schedule{
			Pipeline: cfg.Pipeline,
			CronExpr: cfg.CronExpr,
			Timezone: timezone,
			Enabled:  true,
		},
		triggerer: cfg.Triggerer,
		history:   cfg.History,
		locker:    cfg.Locker,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Schedule возвращает копию текущего состояния расписания.
func (s *Scheduler) Schedule() domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Init вычисляет NextDueAt.
//
// Если в истории есть scheduled run, отсчёт идёт от его trigger time:
// пропущенная за время простоя граница будет запущена на ближайшем тике.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.now()

	if s.history != nil {
		last, err := s.history.LastScheduled(ctx, s.schedule.Pipeline)
		switch {
		case err == nil:
			from = last.TriggerTime
			s.schedule.LastRunAt = &last.CreatedAt
			s.schedule.LastRunID = &last.ID
		case errors.Is(err, repo.ErrNotFound):
		default:
			return fmt.Errorf("load last scheduled run: %w", err)
		}
	}

	next, err := CalculateNextDue(&s.schedule, from)
	if err != nil {
		return err
	}
	s.schedule.NextDueAt = &next
	s.initialized = true

	s.logger.Info("schedule initialized",
		"pipeline", s.schedule.Pipeline,
		"cron_expr", s.schedule.CronExpr,
		"timezone", s.schedule.Timezone,
		"next_due_at", next,
	)
	return nil
}

// Tick запускает run, если расписание подошло.
//
// Несколько пропущенных границ дают один run за последнюю из них.
// При ошибке запуска NextDueAt не сдвигается и запуск повторится на следующем тике.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.initialized || !s.schedule.IsDue(now) {
		return nil
	}

	// 1. Последняя наступившая граница
	due, err := LatestDue(&s.schedule, *s.schedule.NextDueAt, now)
	if err != nil {
		return err
	}
	if !due.Equal(*s.schedule.NextDueAt) {
		s.logger.Warn("missed schedule boundaries, catching up once",
			"first_missed", *s.schedule.NextDueAt,
			"due", due,
		)
	}

	// 2. Idempotency key: "{pipeline}_{due_unix}"
	key := fmt.Sprintf("%s_%d", s.schedule.Pipeline, due.Unix())

	runID, err := s.triggerer.TriggerRun(ctx, domain.Trigger{
		Type:           domain.TriggerScheduled,
		Time:           due,
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("trigger scheduled run: %w", err)
	}

	// 3. Сдвигаем NextDueAt
	next, err := CalculateNextDue(&s.schedule, due)
	if err != nil {
		return err
	}
	s.schedule.RecordRun(runID, next)

	s.logger.Info("scheduled run triggered",
		"run_id", runID,
		"due", due,
		"idempotency_key", key,
		"next_due_at", next,
	)
	return nil
}

// Run выполняет тики до отмены ctx.
//
// При заданном Locker тикает только держатель lock. Новый лидер
// перечитывает историю, чтобы продолжить с места предыдущего.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	leader := false
	defer func() {
		if leader && s.locker != nil {
			if err := s.locker.Release(context.Background()); err != nil {
				s.logger.Warn("failed to release scheduler lock", "error", err)
			}
		}
	}()

	for {
		ok, err := s.acquire(ctx)
		switch {
		case err != nil:
			s.logger.Error("scheduler lock failed", "error", err)
			leader = false
		case !ok:
			if leader {
				s.logger.Warn("scheduler leadership lost")
			}
			leader = false
		default:
			if !leader {
				s.logger.Info("scheduler became leader")
				if err := s.Init(ctx); err != nil {
					s.logger.Error("scheduler init failed", "error", err)
					break
				}
				leader = true
			}
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// acquire берёт или подтверждает лидерство.
func (s *Scheduler) acquire(ctx context.Context) (bool, error) {
	if s.locker == nil {
		return true, nil
	}
	return s.locker.TryAcquire(ctx)
}
