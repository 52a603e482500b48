package steps

import "context"

// StepTypeNoop — тип шага-маркера.
const StepTypeNoop = "noop"

// NoopStep — шаг без действия.
// Используется для маркеров начала и конца pipeline.
type NoopStep struct{}

// NewNoopStep создаёт новый NoopStep.
func NewNoopStep() *NoopStep {
	return &NoopStep{}
}

// Type возвращает тип шага.
func (s *NoopStep) Type() string {
	return StepTypeNoop
}

// Execute ничего не делает.
func (s *NoopStep) Execute(ctx context.Context, _ *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	return NewResponse(""), nil
}
