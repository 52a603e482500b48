package orchestrator

import (
	"errors"
	"fmt"
)

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже завершён, отменять нечего.
	ErrRunFinished = errors.New("run already finished")

	// ErrDefinitionsSealed — шаги нельзя определять после первого запуска.
	ErrDefinitionsSealed = errors.New("step definitions are sealed")

	// ErrNoSteps — pipeline не содержит шагов.
	ErrNoSteps = errors.New("pipeline has no steps")

	// ErrNilAction — у шага нет действия.
	ErrNilAction = errors.New("step has no action")

	// ErrInvalidRetryPolicy — отрицательное количество retry или задержка.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrUpstreamSkipped — шаг не запускался, потому что upstream не завершился успешно.
	ErrUpstreamSkipped = errors.New("upstream step did not succeed")

	// ErrRunCancelled — run отменён до завершения шага.
	ErrRunCancelled = errors.New("run cancelled")

	// errAborted — внутренний сигнал: run прерван во время выполнения шага.
	errAborted = errors.New("run aborted")
)

// StepExecutionError — неудачная попытка выполнения шага.
// Может быть исправлена повторной попыткой.
type StepExecutionError struct {
	StepID  string
	Attempt int
	Err     error
}

// Error реализует интерфейс error.
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s: attempt %d: %v", e.StepID, e.Attempt, e.Err)
}

// Unwrap возвращает ошибку внешнего вызова.
func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// StepFailedError — шаг исчерпал все попытки. Run завершается с FAILED.
type StepFailedError struct {
	StepID   string
	Attempts int
	Err      error
}

// Error реализует интерфейс error.
func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
}

// Unwrap возвращает ошибку последней попытки.
func (e *StepFailedError) Unwrap() error {
	return e.Err
}
