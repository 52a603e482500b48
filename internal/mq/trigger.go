package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
)

// Triggerer запускает run.
type Triggerer interface {
	TriggerRun(ctx context.Context, trigger domain.Trigger) (uuid.UUID, error)
}

// NewTriggerHandler создаёт Handler очереди runs.trigger.
//
// Каждое сообщение запускает manual run. Сообщения другого типа
// и невалидный payload уходят в DLQ.
func NewTriggerHandler(t Triggerer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, d *Delivery) error {
		if d.Message.Type != MessageTypeRunTrigger {
			return fmt.Errorf("%w: unexpected message type %q", ErrPermanent, d.Message.Type)
		}

		payload, err := ParsePayload[TriggerPayload](&d.Message)
		if err != nil {
			return errors.Join(ErrPermanent, err)
		}

		runID, err := t.TriggerRun(ctx, domain.Trigger{
			Type:           domain.TriggerManual,
			Time:           time.Now().UTC(),
			IdempotencyKey: payload.IdempotencyKey,
		})
		if err != nil {
			return fmt.Errorf("trigger run: %w", err)
		}

		logger.Info("run triggered from queue",
			"run_id", runID,
			"message_id", d.Message.ID,
			"requested_by", payload.RequestedBy,
		)
		return nil
	}
}
