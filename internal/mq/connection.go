package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Границы задержки переподключения к брокеру.
const (
	redialMinDelay = time.Second
	redialMaxDelay = 30 * time.Second
)

// Connection — соединение batchflow-server с брокером.
//
// Держит одно AMQP соединение и один канал на процесс: события runs
// публикует Publisher, очередь runs.trigger читает Consumer.
// При разрыве переподключается в фоне, Consumer узнаёт об этом через ReconnectNotify.
type Connection struct {
	url    string
	logger *slog.Logger

	mu       sync.RWMutex
	amqpConn *amqp.Connection
	ch       *amqp.Channel
	closed   bool

	// done закрывается в Close и останавливает watch.
	done chan struct{}

	// redialed получает сигнал после успешного переподключения.
	redialed chan struct{}
}

// NewConnection подключается к RabbitMQ по url.
// Пустой url возвращает ErrNotConfigured.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if url == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		url:      url,
		logger:   logger,
		done:     make(chan struct{}),
		redialed: make(chan struct{}, 1),
	}

	conn, ch, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.attach(conn, ch)

	go c.watch()

	return c, nil
}

// dial открывает соединение и канал. Lock не держит.
func (c *Connection) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// attach делает conn и ch текущими.
// После Close закрывает их и возвращает false.
func (c *Connection) attach(conn *amqp.Connection, ch *amqp.Channel) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.amqpConn = conn
	c.ch = ch
	c.mu.Unlock()

	c.logger.Info("RabbitMQ connected", "host", conn.RemoteAddr().String())
	return true
}

// watch ждёт разрыва текущего соединения и переподключается.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.amqpConn
		c.mu.RUnlock()

		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-lost:
			if err != nil {
				c.logger.Warn("RabbitMQ connection lost", "error", err)
			}
		}

		if !c.redial() {
			return
		}
	}
}

// redial переподключается с растущей задержкой.
// Возвращает false, если соединение закрыли через Close.
func (c *Connection) redial() bool {
	delay := redialMinDelay

	for {
		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return false
		case <-timer.C:
		}

		conn, ch, err := c.dial()
		if err != nil {
			c.logger.Warn("RabbitMQ redial failed", "delay", delay, "error", err)
			delay = min(delay*2, redialMaxDelay)
			continue
		}

		if !c.attach(conn, ch) {
			return false
		}

		select {
		case c.redialed <- struct{}{}:
		default:
		}
		return true
	}
}

// Channel возвращает текущий канал (nil до подключения).
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ch
}

// ReconnectNotify сигналит после каждого переподключения.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.redialed
}

// Close закрывает канал и соединение. Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.amqpConn != nil {
		if err := c.amqpConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}

// IsConnected сообщает, открыты ли соединение и канал. Используется в /healthz.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed || c.amqpConn == nil || c.ch == nil {
		return false
	}
	return !c.amqpConn.IsClosed() && !c.ch.IsClosed()
}

// WithChannel вызывает fn с текущим каналом.
//
// ErrConnectionClosed после Close, ErrNoChannel во время переподключения.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch, closed := c.ch, c.closed
	c.mu.RUnlock()

	switch {
	case closed:
		return ErrConnectionClosed
	case ch == nil || ch.IsClosed():
		return ErrNoChannel
	}
	return fn(ch)
}
