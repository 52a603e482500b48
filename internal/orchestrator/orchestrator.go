package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/engine"
	"github.com/shaiso/batchflow/internal/steps"
	"github.com/shaiso/batchflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPipeline     = "batch_workflow"
	defaultHistoryLimit = 1000
)

// Store — сохранение истории runs.
//
// Ошибки Store логируются и не влияют на выполнение run.
type Store interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateRun(ctx context.Context, run *domain.Run) error
	SaveStep(ctx context.Context, step *domain.StepRun) error

	// FindRunByIdempotencyKey возвращает run с ключом или (nil, nil), если его нет.
	FindRunByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
}

// Events — публикация событий run.
//
// Ошибки Events логируются и не влияют на выполнение run.
type Events interface {
	PublishRunStarted(ctx context.Context, run *domain.Run) error
	PublishRunFinished(ctx context.Context, run *domain.Run) error
	PublishStepFinished(ctx context.Context, step *domain.StepRun) error
}

// Orchestrator выполняет runs pipeline.
type Orchestrator struct {
	pipeline     string
	defaultRetry domain.RetryPolicy

	// Definitions — после первого TriggerRun только чтение
	graph   *engine.Graph
	actions map[string]steps.Step
	sealed  bool
	defMu   sync.RWMutex

	// Runs — все известные runs (runID → state), активные и завершённые.
	// mu также защищает stopped, lastStart и wg.Add.
	runs         map[uuid.UUID]*RunState
	keys         map[string]uuid.UUID
	history      []uuid.UUID
	historyLimit int
	lastStart    time.Time
	stopped      bool
	mu           sync.RWMutex

	// Dependencies
	store   Store
	events  Events
	metrics *telemetry.Metrics

	// Lifecycle
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Pipeline — имя pipeline в runs и событиях (default: batch_workflow).
	Pipeline string

	// DefaultRetry — политика для шагов без своей (default: 1 retry, 5m).
	DefaultRetry *domain.RetryPolicy

	// HistoryLimit — сколько завершённых runs держать в памяти (default: 1000).
	HistoryLimit int

	// Store — история runs (опционально).
	Store Store

	// Events — публикация событий (опционально).
	Events Events

	// Metrics — Prometheus метрики (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pipeline := cfg.Pipeline
	if pipeline == "" {
		pipeline = defaultPipeline
	}

	retry := domain.DefaultRetryPolicy()
	if cfg.DefaultRetry != nil {
		retry = *cfg.DefaultRetry
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		pipeline:     pipeline,
		defaultRetry: retry,
		graph:        engine.NewGraph(),
		actions:      make(map[string]steps.Step),
		runs:         make(map[uuid.UUID]*RunState),
		keys:         make(map[string]uuid.UUID),
		historyLimit: historyLimit,
		store:        cfg.Store,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// Pipeline возвращает имя pipeline.
func (o *Orchestrator) Pipeline() string {
	return o.pipeline
}

// Define регистрирует шаг.
//
// Зависимости должны быть определены раньше. retry == nil — политика по умолчанию.
// При ошибке существующие определения не меняются.
func (o *Orchestrator) Define(stepID string, action steps.Step, dependsOn []string, retry *domain.RetryPolicy) error {
	o.defMu.Lock()
	defer o.defMu.Unlock()

	if o.sealed {
		return ErrDefinitionsSealed
	}
	if action == nil {
		return engine.NewValidationError(stepID, "action", "step action is required", ErrNilAction)
	}

	policy := o.defaultRetry
	if retry != nil {
		policy = *retry
	}
	if policy.Retries < 0 || policy.Delay < 0 {
		return engine.NewValidationError(stepID, "retry", "retries and delay must not be negative", ErrInvalidRetryPolicy)
	}

	def := domain.StepDef{
		ID:        stepID,
		Type:      action.Type(),
		DependsOn: dependsOn,
		Retry:     policy,
	}
	if err := o.graph.Define(def); err != nil {
		return err
	}
	o.actions[stepID] = action

	o.logger.Debug("step defined",
		"step_id", stepID,
		"type", def.Type,
		"depends_on", dependsOn,
		"retries", policy.Retries,
		"retry_delay", policy.Delay,
	)

	return nil
}

// Steps возвращает определения шагов в порядке выполнения.
func (o *Orchestrator) Steps() []domain.StepDef {
	o.defMu.RLock()
	defer o.defMu.RUnlock()
	return o.graph.Steps()
}

// seal запрещает дальнейшие Define.
func (o *Orchestrator) seal() error {
	o.defMu.Lock()
	defer o.defMu.Unlock()

	if o.graph.Size() == 0 {
		return ErrNoSteps
	}
	o.sealed = true
	return nil
}

// TriggerRun создаёт run и запускает его выполнение в фоне.
//
// Если trigger.IdempotencyKey уже встречался, возвращает ID существующего run.
func (o *Orchestrator) TriggerRun(ctx context.Context, trigger domain.Trigger) (uuid.UUID, error) {
	if o.IsStopped() {
		return uuid.Nil, ErrOrchestratorStopped
	}

	// 1. Фиксируем определения
	if err := o.seal(); err != nil {
		return uuid.Nil, err
	}

	// 2. Проверяем идемпотентность
	if id, ok := o.findByKey(ctx, trigger.IdempotencyKey); ok {
		o.logger.Info("run already exists for idempotency key",
			"run_id", id,
			"idempotency_key", trigger.IdempotencyKey,
		)
		return id, nil
	}

	// 3. Создаём run
	run := domain.NewRun(o.pipeline, trigger)
	state := NewRunState(run, o.graph.Order())

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return uuid.Nil, ErrOrchestratorStopped
	}
	if trigger.IdempotencyKey != "" {
		if id, exists := o.keys[trigger.IdempotencyKey]; exists {
			o.mu.Unlock()
			return id, nil
		}
		o.keys[trigger.IdempotencyKey] = run.ID
	}
	o.runs[run.ID] = state
	o.history = append(o.history, run.ID)
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.SetActiveRuns(o.ActiveRunsCount())

	// 4. Сохраняем
	if o.store != nil {
		created := state.Run()
		if err := o.store.CreateRun(ctx, &created); err != nil {
			o.logger.Error("failed to persist run",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	o.logger.Info("run triggered",
		"run_id", run.ID,
		"pipeline", o.pipeline,
		"trigger", run.Trigger,
		"trigger_time", run.TriggerTime,
	)

	// 5. Запускаем выполнение
	go o.execute(state)

	return run.ID, nil
}

// findByKey ищет run по ключу идемпотентности в памяти, затем в Store.
func (o *Orchestrator) findByKey(ctx context.Context, key string) (uuid.UUID, bool) {
	if key == "" {
		return uuid.Nil, false
	}

	o.mu.RLock()
	id, exists := o.keys[key]
	o.mu.RUnlock()
	if exists {
		return id, true
	}

	if o.store == nil {
		return uuid.Nil, false
	}
	run, err := o.store.FindRunByIdempotencyKey(ctx, key)
	if err != nil {
		o.logger.Error("failed to look up idempotency key",
			"idempotency_key", key,
			"error", err,
		)
		return uuid.Nil, false
	}
	if run == nil {
		return uuid.Nil, false
	}
	return run.ID, true
}

// GetRunStatus возвращает состояние run и всех его шагов.
func (o *Orchestrator) GetRunStatus(runID uuid.UUID) (*RunSnapshot, error) {
	state := o.getRun(runID)
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return state.Snapshot(), nil
}

// ListRuns возвращает runs из памяти, новые первыми.
func (o *Orchestrator) ListRuns(limit int) []*RunSnapshot {
	o.mu.RLock()
	ids := make([]uuid.UUID, len(o.history))
	copy(ids, o.history)
	o.mu.RUnlock()

	result := make([]*RunSnapshot, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if state := o.getRun(ids[i]); state != nil {
			result = append(result, state.Snapshot())
		}
	}
	return result
}

// Cancel прерывает run.
//
// Незавершённые шаги помечаются SKIPPED, run — CANCELLED.
// Внешний вызов, выполняющийся в момент отмены, не прерывается:
// оркестратор перестаёт его ждать и игнорирует результат.
func (o *Orchestrator) Cancel(runID uuid.UUID, reason string) error {
	state := o.getRun(runID)
	if state == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if state.IsFinished() {
		return fmt.Errorf("%w: %s", ErrRunFinished, runID)
	}

	if reason == "" {
		reason = "cancelled by operator"
	}
	if state.Abort(reason) {
		o.logger.Info("run cancel requested",
			"run_id", runID,
			"reason", reason,
		)
	}
	return nil
}

// Wait ждёт завершения run.
func (o *Orchestrator) Wait(ctx context.Context, runID uuid.UUID) (*RunSnapshot, error) {
	state := o.getRun(runID)
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	select {
	case <-state.Done():
		return state.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown останавливает Orchestrator.
//
// Новые runs не принимаются, активные прерываются как при Cancel.
// Ждёт финализации активных runs или отмены ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("stopping orchestrator...")

	// Под тем же lock, что и регистрация в TriggerRun: после него
	// новых runs и wg.Add не будет.
	o.mu.Lock()
	o.stopped = true
	for _, state := range o.runs {
		if !state.IsFinished() {
			state.Abort("orchestrator shutdown")
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopped
}

// nextStartTime возвращает время старта run.
//
// Start timestamp различает артефакты runs с точностью до секунды,
// поэтому секунда, уже выданная другому run, сдвигается на следующую.
func (o *Orchestrator) nextStartTime() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.now().UTC()
	second := start.Truncate(time.Second)
	if !second.After(o.lastStart) {
		second = o.lastStart.Add(time.Second)
		start = second
	}
	o.lastStart = second
	return start
}

// getRun возвращает RunState.
func (o *Orchestrator) getRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs[runID]
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	count := 0
	for _, state := range o.runs {
		if !state.IsFinished() {
			count++
		}
	}
	return count
}

// GetRunStats возвращает статистику по run.
func (o *Orchestrator) GetRunStats(runID uuid.UUID) (RunStats, bool) {
	state := o.getRun(runID)
	if state == nil {
		return RunStats{}, false
	}
	return state.Stats(), true
}

// evictHistory удаляет самые старые завершённые runs сверх historyLimit.
func (o *Orchestrator) evictHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()

	excess := len(o.history) - o.historyLimit
	if excess <= 0 {
		return
	}

	kept := make([]uuid.UUID, 0, len(o.history))
	for _, id := range o.history {
		state := o.runs[id]
		if excess > 0 && state != nil && state.IsFinished() {
			delete(o.runs, id)
			if key := state.Run().IdempotencyKey; key != "" {
				delete(o.keys, key)
			}
			excess--
			continue
		}
		kept = append(kept, id)
	}
	o.history = kept
}
