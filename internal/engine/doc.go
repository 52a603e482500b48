// Package engine содержит модель pipeline, не зависящую от внешних систем.
//
// Включает:
//   - graph.go   — граф шагов: определение с валидацией и порядок выполнения
//   - handoff.go — write-once хранилище handoff-значений одного run
//
// Engine отвечает за структуру pipeline и за передачу данных
// между шагами. Выполнение шагов делает orchestrator.
package engine
