package domain

import (
	"time"

	"github.com/google/uuid"
)

// StartTimestampLayout — формат start timestamp run'а в именах артефактов
// (например, datasets/online_transaction_20240101000000.parquet).
const StartTimestampLayout = "20060102150405"

// Trigger — запрос на запуск run.
type Trigger struct {
	// Type — кто запустил: планировщик или оператор.
	Type TriggerType `json:"type"`

	// Time — логическое время запуска (due time расписания или момент ручного запуска).
	Time time.Time `json:"time"`

	// IdempotencyKey — ключ для защиты от повторного запуска.
	// Для scheduled runs: "{pipeline}_{due_unix}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Run — один запуск pipeline.
//
// Run создаётся когда:
//   - Scheduler срабатывает по расписанию
//   - Оператор запускает pipeline вручную (API, CLI, очередь runs.trigger)
//
// Run проходит все шаги pipeline ровно один раз.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Pipeline — имя pipeline (например, "batch_workflow").
	Pipeline string `json:"pipeline"`

	// Trigger — источник запуска.
	Trigger TriggerType `json:"trigger"`

	// TriggerTime — логическое время запуска.
	TriggerTime time.Time `json:"trigger_time"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	// Из него выводится start timestamp для имён артефактов.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// FailedStep — ID шага, из-за которого run упал.
	FailedStep string `json:"failed_step,omitempty"`

	// Error — причина FAILED/CANCELLED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING.
func NewRun(pipeline string, trigger Trigger) *Run {
	now := time.Now().UTC()
	triggerTime := trigger.Time
	if triggerTime.IsZero() {
		triggerTime = now
	}
	triggerType := trigger.Type
	if triggerType == "" {
		triggerType = TriggerManual
	}
	return &Run{
		ID:             uuid.New(),
		Pipeline:       pipeline,
		Trigger:        triggerType,
		TriggerTime:    triggerTime.UTC(),
		Status:         RunStatusPending,
		IdempotencyKey: trigger.IdempotencyKey,
		CreatedAt:      now,
	}
}

// StartTimestamp возвращает start timestamp run'а в формате StartTimestampLayout (UTC).
// Пустая строка, если run ещё не начался.
func (r *Run) StartTimestamp() string {
	if r.StartedAt == nil {
		return ""
	}
	return r.StartedAt.UTC().Format(StartTimestampLayout)
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning(at time.Time) {
	at = at.UTC()
	r.Status = RunStatusRunning
	r.StartedAt = &at
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now().UTC()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с указанием упавшего шага.
func (r *Run) MarkFailed(stepID, err string) {
	now := time.Now().UTC()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.FailedStep = stepID
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled(reason string) {
	now := time.Now().UTC()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
	r.Error = reason
}
