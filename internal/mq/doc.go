// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение и канал с переподключением (backoff 1s..30s)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий runs и запросов на запуск
//   - consumer.go   — потребление сообщений из очередей
//   - trigger.go    — обработчик очереди runs.trigger
//
// Типы сообщений:
//   - run.trigger    — запрос на ручной запуск run
//   - run.started    — run перешёл в RUNNING
//   - run.finished   — run завершён (SUCCEEDED, FAILED, CANCELLED)
//   - step.finished  — шаг завершён (SUCCEEDED, FAILED, SKIPPED)
//
// Exchanges:
//   - batchflow.runs — события runs и запросы на запуск (topic)
//   - batchflow.dlq  — dead letter queue
package mq
