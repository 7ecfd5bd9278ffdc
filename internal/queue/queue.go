package queue

import (
	"context"
	"fmt"
)

// Publisher publishes reconcile messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ReconcileMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A returned error
// dead-letters the delivery.
type MessageHandler func(ctx context.Context, msg ReconcileMessage) error

// Consumer consumes reconcile messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// ReconcileQueue carries identities whose upstream record diverged.
	ReconcileQueue = "identity.reconcile"

	dlxExchangeName = "lyve.dlx"
)

// DLQName returns the dead-letter queue name for a work queue, e.g.
// dlq.identity.reconcile.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns every queue the bridge declares.
func WorkQueueNames() []string {
	return []string{ReconcileQueue}
}
