// Package orchestrator выполняет runs pipeline.
//
// Orchestrator отвечает за:
//   - Определение шагов (Define) с валидацией зависимостей
//   - Запуск run (TriggerRun) в отдельной горутине
//   - Последовательное выполнение шагов в порядке определения
//   - Retry с фиксированной задержкой
//   - Пропуск оставшихся шагов после падения или отмены
//   - Передачу output шагов через handoff-хранилище run
//   - Сохранение истории и публикацию событий (если настроены)
//
// Runs независимы друг от друга и разделяют только определения шагов,
// которые после первого запуска не меняются.
package orchestrator
