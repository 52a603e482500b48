package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/batchflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunTrigger   MessageType = "run.trigger"
	MessageTypeRunStarted   MessageType = "run.started"
	MessageTypeRunFinished  MessageType = "run.finished"
	MessageTypeStepFinished MessageType = "step.finished"
)

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// TriggerPayload — запрос на запуск run.
type TriggerPayload struct {
	// IdempotencyKey — повторный запрос с тем же ключом не создаёт новый run.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// RequestedBy — кто запросил запуск (для логов).
	RequestedBy string `json:"requested_by,omitempty"`
}

// RunEventPayload — событие run.started / run.finished.
type RunEventPayload struct {
	RunID          uuid.UUID          `json:"run_id"`
	Pipeline       string             `json:"pipeline"`
	Trigger        domain.TriggerType `json:"trigger"`
	Status         domain.RunStatus   `json:"status"`
	StartTimestamp string             `json:"start_timestamp,omitempty"`
	FailedStep     string             `json:"failed_step,omitempty"`
	Error          string             `json:"error,omitempty"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// NewRunEventPayload создаёт payload из run.
func NewRunEventPayload(run *domain.Run) RunEventPayload {
	return RunEventPayload{
		RunID:          run.ID,
		Pipeline:       run.Pipeline,
		Trigger:        run.Trigger,
		Status:         run.Status,
		StartTimestamp: run.StartTimestamp(),
		FailedStep:     run.FailedStep,
		Error:          run.Error,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

// StepEventPayload — событие step.finished.
type StepEventPayload struct {
	RunID    uuid.UUID         `json:"run_id"`
	StepID   string            `json:"step_id"`
	Status   domain.StepStatus `json:"status"`
	Attempts int               `json:"attempts"`
	Output   string            `json:"output,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// NewStepEventPayload создаёт payload из состояния шага.
func NewStepEventPayload(step *domain.StepRun) StepEventPayload {
	return StepEventPayload{
		RunID:    step.RunID,
		StepID:   step.StepID,
		Status:   step.Status,
		Attempts: step.Attempts,
		Output:   step.Output,
		Error:    step.Error,
	}
}

// Publisher публикует сообщения в RabbitMQ.
// Реализует orchestrator.Events.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	publishing, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			publishing,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// encodeMessage сериализует сообщение в persistent AMQP publishing.
func encodeMessage(msg *Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}, nil
}

// PublishRunStarted публикует run.started.
func (p *Publisher) PublishRunStarted(ctx context.Context, run *domain.Run) error {
	msg := NewMessage(MessageTypeRunStarted, NewRunEventPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRunStarted, msg)
}

// PublishRunFinished публикует run.finished.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	msg := NewMessage(MessageTypeRunFinished, NewRunEventPayload(run))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRunFinished, msg)
}

// PublishStepFinished публикует step.finished.
func (p *Publisher) PublishStepFinished(ctx context.Context, step *domain.StepRun) error {
	msg := NewMessage(MessageTypeStepFinished, NewStepEventPayload(step))
	return p.Publish(ctx, ExchangeRuns, RoutingKeyStepFinished, msg)
}

// PublishTriggerRequest публикует запрос на запуск run в runs.trigger.
// Потребитель: batchflow-server.
func (p *Publisher) PublishTriggerRequest(ctx context.Context, payload TriggerPayload) error {
	msg := NewMessage(MessageTypeRunTrigger, payload)
	return p.Publish(ctx, ExchangeRuns, RoutingKeyTrigger, msg)
}
