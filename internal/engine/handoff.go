package engine

import (
	"fmt"
	"sync"
)

// Handoffs — handoff-значения одного run.
//
// Каждый шаг записывает своё значение не более одного раза,
// после записи значение не меняется. Значения не выходят за пределы run.
type Handoffs struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewHandoffs создаёт пустое хранилище.
func NewHandoffs() *Handoffs {
	return &Handoffs{
		values: make(map[string]string),
	}
}

// Put записывает значение шага.
// Повторная запись для того же шага возвращает ErrHandoffExists.
func (h *Handoffs) Put(stepID, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.values[stepID]; exists {
		return fmt.Errorf("%w: %s", ErrHandoffExists, stepID)
	}
	h.values[stepID] = value
	return nil
}

// Get возвращает значение шага.
func (h *Handoffs) Get(stepID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	value, ok := h.values[stepID]
	return value, ok
}

// Len возвращает количество записанных значений.
func (h *Handoffs) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.values)
}

// Snapshot возвращает копию значений на текущий момент.
func (h *Handoffs) Snapshot() HandoffView {
	h.mu.RLock()
	defer h.mu.RUnlock()

	values := make(map[string]string, len(h.values))
	for k, v := range h.values {
		values[k] = v
	}
	return HandoffView{values: values}
}

// HandoffView — read-only снимок handoff-значений, который получает шаг при dispatch.
type HandoffView struct {
	values map[string]string
}

// NewHandoffView создаёт снимок из map (используется в тестах шагов).
func NewHandoffView(values map[string]string) HandoffView {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return HandoffView{values: copied}
}

// Get возвращает значение шага.
func (v HandoffView) Get(stepID string) (string, bool) {
	value, ok := v.values[stepID]
	return value, ok
}

// Require возвращает значение шага или ErrHandoffNotFound.
func (v HandoffView) Require(stepID string) (string, error) {
	value, ok := v.values[stepID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrHandoffNotFound, stepID)
	}
	return value, nil
}

// Len возвращает количество значений.
func (v HandoffView) Len() int {
	return len(v.values)
}
