package engine

import (
	"errors"
	"fmt"
)

// Ошибки определения шагов.
var (
	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — шаг с таким ID уже определён.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrMissingDependency — шаг зависит от ещё не определённого шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")
)

// Ошибки handoff-значений.
var (
	// ErrHandoffExists — шаг уже записал своё значение в этом run.
	ErrHandoffExists = errors.New("handoff value already recorded")

	// ErrHandoffNotFound — значение шага отсутствует.
	ErrHandoffNotFound = errors.New("handoff value not found")
)

// DuplicateStepError — попытка повторно определить шаг.
type DuplicateStepError struct {
	StepID string
}

// Error реализует интерфейс error.
func (e *DuplicateStepError) Error() string {
	return fmt.Sprintf("step %s: already defined", e.StepID)
}

// Unwrap возвращает ErrDuplicateStepID.
func (e *DuplicateStepError) Unwrap() error {
	return ErrDuplicateStepID
}

// UnknownDependencyError — шаг ссылается на шаг, который ещё не определён.
type UnknownDependencyError struct {
	StepID     string
	Dependency string
}

// Error реализует интерфейс error.
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("step %s: depends on unknown step: %s", e.StepID, e.Dependency)
}

// Unwrap возвращает ErrMissingDependency.
func (e *UnknownDependencyError) Unwrap() error {
	return ErrMissingDependency
}

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
