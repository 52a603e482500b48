package domain

import (
	"time"

	"github.com/google/uuid"
)

// Значения retry по умолчанию (одна повторная попытка через 5 минут).
const (
	DefaultRetries    = 1
	DefaultRetryDelay = 5 * time.Minute
)

// RetryPolicy — политика повторных попыток шага.
//
// Задержка между попытками фиксированная, без exponential backoff.
type RetryPolicy struct {
	// Retries — количество повторных попыток после первой.
	Retries int `json:"retries"`

	// Delay — пауза перед каждой повторной попыткой.
	Delay time.Duration `json:"delay"`
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: DefaultRetries, Delay: DefaultRetryDelay}
}

// MaxAttempts возвращает общее количество попыток (включая первую).
func (p RetryPolicy) MaxAttempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// StepDef — определение шага pipeline.
//
// Создаётся один раз при определении pipeline и дальше не меняется.
// Само действие шага (вызов внешней системы) хранит Orchestrator.
type StepDef struct {
	// ID — уникальный идентификатор шага.
	// Используется в DependsOn и как ключ handoff-значения.
	ID string `json:"id"`

	// Type — тип действия: "noop", "command", "upload", "external_table", "delete_table".
	Type string `json:"type"`

	// DependsOn — шаги, которые должны успешно завершиться до запуска этого.
	DependsOn []string `json:"depends_on,omitempty"`

	// Retry — политика повторных попыток.
	Retry RetryPolicy `json:"retry"`
}

// StepRun — состояние шага внутри конкретного run.
type StepRun struct {
	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// StepID — ID шага (StepDef.ID).
	StepID string `json:"step_id"`

	// Position — порядковый номер шага в pipeline.
	Position int `json:"position"`

	// Status — текущий статус.
	Status StepStatus `json:"status"`

	// Attempts — количество сделанных попыток.
	Attempts int `json:"attempts"`

	// Output — captured output шага (handoff-значение для следующих шагов).
	Output string `json:"output,omitempty"`

	// Error — текст ошибки последней попытки или причина пропуска.
	Error string `json:"error,omitempty"`

	// StartedAt — время первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration возвращает продолжительность выполнения шага.
func (s *StepRun) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// MarkRunning переводит шаг в статус RUNNING и увеличивает счётчик попыток.
func (s *StepRun) MarkRunning() {
	now := time.Now().UTC()
	s.Status = StepStatusRunning
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	s.Attempts++
	s.Error = ""
}

// MarkSucceeded переводит шаг в статус SUCCEEDED с output.
func (s *StepRun) MarkSucceeded(output string) {
	now := time.Now().UTC()
	s.Status = StepStatusSucceeded
	s.FinishedAt = &now
	s.Output = output
	s.Error = ""
}

// MarkFailed переводит шаг в статус FAILED.
func (s *StepRun) MarkFailed(output, err string) {
	now := time.Now().UTC()
	s.Status = StepStatusFailed
	s.FinishedAt = &now
	s.Output = output
	s.Error = err
}

// MarkSkipped переводит шаг в статус SKIPPED с причиной.
func (s *StepRun) MarkSkipped(reason string) {
	now := time.Now().UTC()
	s.Status = StepStatusSkipped
	s.FinishedAt = &now
	s.Error = reason
}

// RecordAttemptError сохраняет ошибку неудачной попытки (перед retry).
func (s *StepRun) RecordAttemptError(err string) {
	s.Error = err
}

// CanRetry проверяет, можно ли сделать ещё одну попытку.
func (s *StepRun) CanRetry(policy RetryPolicy) bool {
	return s.Attempts < policy.MaxAttempts()
}
