// Package telemetry — логи и метрики batchflow-server.
//
// Логи (logging.go): SetupLogger строит slog логгер по LOG_LEVEL и
// LOG_FORMAT (json или text). Записи одного run несут ключ run_id
// (WithRunID), записи шага дополнительно step_id (WithStepID), так что
// весь путь run от запуска до уборки ищется по одному ключу.
//
// Метрики (metrics.go), отдаются на /metrics:
//   - batchflow_runs_total{status}                 — завершённые runs
//   - batchflow_step_attempts_total{step,result}   — попытки шагов
//   - batchflow_step_duration_seconds{step}        — длительность попытки
//   - batchflow_active_runs                        — runs в работе
//   - batchflow_http_requests_total{method,route,code} — запросы к API
//
// Nil *Metrics допустим: методы ничего не делают.
package telemetry
