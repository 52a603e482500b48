package engine

import (
	"fmt"

	"github.com/shaiso/batchflow/internal/domain"
)

// Node — узел графа шагов.
type Node struct {
	// Step — определение шага.
	Step domain.StepDef

	// ID — идентификатор узла (совпадает с Step.ID).
	ID string

	// Index — позиция шага в порядке определения.
	Index int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — граф шагов pipeline.
//
// Зависимости должны быть определены раньше зависимых шагов, поэтому
// порядок определения всегда топологический и циклы невозможны.
type Graph struct {
	nodes map[string]*Node
	order []*Node
}

// NewGraph создаёт пустой граф.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		order: make([]*Node, 0),
	}
}

// Define добавляет шаг в граф.
//
// При ошибке граф не изменяется.
func (g *Graph) Define(def domain.StepDef) error {
	// 1. Валидируем ID
	if def.ID == "" {
		return NewValidationError("", "id", "step ID is required", ErrEmptyStepID)
	}
	if _, exists := g.nodes[def.ID]; exists {
		return &DuplicateStepError{StepID: def.ID}
	}

	// 2. Проверяем зависимости
	deps := make([]*Node, 0, len(def.DependsOn))
	seen := make(map[string]bool, len(def.DependsOn))
	for _, depID := range def.DependsOn {
		if depID == def.ID {
			return NewValidationError(def.ID, "depends_on", "step depends on itself", ErrSelfDependency)
		}
		if seen[depID] {
			continue
		}
		seen[depID] = true

		depNode, exists := g.nodes[depID]
		if !exists {
			return &UnknownDependencyError{StepID: def.ID, Dependency: depID}
		}
		deps = append(deps, depNode)
	}

	// 3. Добавляем узел и рёбра
	def.DependsOn = append([]string(nil), def.DependsOn...)
	node := &Node{
		Step:       def,
		ID:         def.ID,
		Index:      len(g.order),
		DependsOn:  deps,
		Dependents: make([]*Node, 0),
	}
	for _, dep := range deps {
		dep.Dependents = append(dep.Dependents, node)
	}

	g.nodes[def.ID] = node
	g.order = append(g.order, node)

	return nil
}

// Order возвращает узлы в порядке выполнения.
func (g *Graph) Order() []*Node {
	order := make([]*Node, len(g.order))
	copy(order, g.order)
	return order
}

// Steps возвращает определения шагов в порядке выполнения.
func (g *Graph) Steps() []domain.StepDef {
	defs := make([]domain.StepDef, 0, len(g.order))
	for _, node := range g.order {
		def := node.Step
		def.DependsOn = append([]string(nil), node.Step.DependsOn...)
		defs = append(defs, def)
	}
	return defs
}

// GetNode возвращает узел по ID.
func (g *Graph) GetNode(id string) *Node {
	return g.nodes[id]
}

// Size возвращает количество шагов.
func (g *Graph) Size() int {
	return len(g.order)
}

// NextReady возвращает первый (в порядке определения) шаг, готовый к выполнению.
//
// Шаг готов, если:
// - Он ещё не завершён (нет в finished)
// - Все его зависимости успешно завершены (в succeeded)
//
// Возвращает nil, если готовых шагов нет.
func (g *Graph) NextReady(succeeded, finished map[string]bool) *Node {
	for _, node := range g.order {
		if finished[node.ID] {
			continue
		}

		ready := true
		for _, dep := range node.DependsOn {
			if !succeeded[dep.ID] {
				ready = false
				break
			}
		}
		if ready {
			return node
		}
	}
	return nil
}

// Descendants возвращает все шаги, транзитивно зависящие от id, в порядке выполнения.
func (g *Graph) Descendants(id string) ([]*Node, error) {
	root, exists := g.nodes[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, id)
	}

	marked := make(map[string]bool)
	queue := []*Node{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dependent := range node.Dependents {
			if !marked[dependent.ID] {
				marked[dependent.ID] = true
				queue = append(queue, dependent)
			}
		}
	}

	result := make([]*Node, 0, len(marked))
	for _, node := range g.order {
		if marked[node.ID] {
			result = append(result, node)
		}
	}
	return result, nil
}
