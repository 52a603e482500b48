package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все шаги run завершились успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — один из шагов исчерпал retry, остальные пропущены.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run прерван оператором.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus — статус шага внутри run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED (после всех retry)
//	PENDING → SKIPPED (upstream не успешен или run прерван)
type StepStatus string

const (
	// StepStatusPending — шаг ещё не запускался.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — шаг выполняется (включая ожидание между попытками).
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusSucceeded — шаг успешно завершён, его output доступен следующим шагам.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — шаг упал после всех попыток.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг не запускался.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// TriggerType — источник запуска run.
type TriggerType string

const (
	// TriggerScheduled — run создан планировщиком.
	TriggerScheduled TriggerType = "SCHEDULED"

	// TriggerManual — run запущен вручную (API, CLI, очередь).
	TriggerManual TriggerType = "MANUAL"
)

// String возвращает строковое представление TriggerType.
func (t TriggerType) String() string {
	return string(t)
}
