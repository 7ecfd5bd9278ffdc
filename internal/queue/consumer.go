package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer delivers reconcile messages to a handler, resubscribing
// with backoff whenever the channel or connection drops.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx is canceled. Subscription failures are logged and
// retried; they never end the loop.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	var b backoff
	for {
		delivered, err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			b.reset()
		}
		c.logger.Warn("reconcile subscription ended, resubscribing",
			zap.String("queue", queue),
			zap.Error(err),
		)
		if b.wait(ctx) != nil {
			return nil
		}
	}
}

// subscribe consumes until the delivery stream ends. delivered reports
// whether at least one message was handled, which resets the backoff.
func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) (delivered bool, err error) {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return false, err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return false, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return delivered, nil
		case d, ok := <-deliveries:
			if !ok {
				return delivered, fmt.Errorf("delivery channel closed")
			}
			delivered = true
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return delivered, err
			}
		}
	}
}

// handleDelivery settles every delivery exactly once. Malformed payloads are
// rejected and handler failures are dead-lettered; nothing is requeued,
// because the stale scanner offers STALE mappings again on its own.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	logger := c.logger.With(
		zap.String("messageId", d.MessageId),
		zap.Bool("redelivered", d.Redelivered),
	)

	var msg ReconcileMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Warn("rejecting reconcile message: invalid JSON", zap.Error(err))
		return settle(d.Reject(false), "reject")
	}
	if err := msg.Validate(); err != nil {
		logger.Warn("rejecting reconcile message: validation failed", zap.Error(err))
		return settle(d.Reject(false), "reject")
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}

	if err := handler(ctx, msg); err != nil {
		logger.Warn("dead-lettering reconcile message",
			zap.String("sourceId", msg.SourceID),
			zap.Error(err),
		)
		return settle(d.Nack(false, false), "nack")
	}

	return settle(d.Ack(false), "ack")
}

func settle(err error, action string) error {
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", action, err)
	}
	return nil
}

// Close is a no-op; subscriptions end with their context and the connection
// belongs to RabbitMQ.
func (c *RabbitMQConsumer) Close() error {
	return nil
}
