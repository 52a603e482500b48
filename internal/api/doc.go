// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go      — Handler с зависимостями (оркестратор, история runs, logger)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - dto.go          — Data Transfer Objects (request/response)
//   - run_handler.go  — обработчики для /runs
//   - step_handler.go — обработчики для /steps и /healthz (проверки зависимостей)
//
// API позволяет запускать pipeline вручную, смотреть и отменять runs.
package api
