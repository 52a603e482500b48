package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns Exchange = "batchflow.runs"
	ExchangeDLQ  Exchange = "batchflow.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsTrigger Queue = "runs.trigger"
	QueueRunsEvents  Queue = "runs.events"
	QueueDLQRuns     Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyTrigger      RoutingKey = "run.trigger"
	RoutingKeyRunStarted   RoutingKey = "run.started"
	RoutingKeyRunFinished  RoutingKey = "run.finished"
	RoutingKeyStepFinished RoutingKey = "step.finished"
	RoutingKeyDLQRuns      RoutingKey = "runs"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Объявления идемпотентны: вызывается при каждом старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// runs.trigger — запросы на ручной запуск, невалидные уходят в DLQ
		{QueueRunsTrigger, dlqArgs},

		// runs.events — все события runs и шагов для внешних подписчиков
		{QueueRunsEvents, nil},

		{QueueDLQRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey string
		exchange   Exchange
	}{
		{QueueRunsTrigger, string(RoutingKeyTrigger), ExchangeRuns},
		{QueueRunsEvents, "run.started", ExchangeRuns},
		{QueueRunsEvents, "run.finished", ExchangeRuns},
		{QueueRunsEvents, "step.*", ExchangeRuns},
		{QueueDLQRuns, string(RoutingKeyDLQRuns), ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue), // queue name
			b.routingKey,    // routing key
			string(b.exchange),
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  batchflow RabbitMQ topology:

    batchflow.runs (topic)
    ├── runs.trigger [routing: run.trigger]
    │       Consumer: batchflow-server
    │       DLQ: dlq.runs
    └── runs.events [routing: run.started, run.finished, step.*]
            Consumers: external

    batchflow.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
