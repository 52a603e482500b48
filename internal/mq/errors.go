package mq

import "errors"

// Ошибки RabbitMQ-слоя.
var (
	// ErrNotConfigured — URL брокера не задан.
	ErrNotConfigured = errors.New("rabbitmq url not configured")

	// ErrNoChannel — AMQP канал недоступен (идёт переподключение).
	ErrNoChannel = errors.New("no channel available")

	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPermanent — сообщение нельзя обработать повторно, оно уходит в DLQ.
	ErrPermanent = errors.New("permanent message error")
)
