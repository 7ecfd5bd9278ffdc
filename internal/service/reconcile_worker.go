package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

type Reconciler interface {
	Reconcile(ctx context.Context, sourceID string) domain.Result
}

// ReconcileWorker consumes reconcile messages and drives them through the
// orchestrator.
type ReconcileWorker struct {
	consumer    queue.Consumer
	reconciler  Reconciler
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewReconcileWorker(
	consumer queue.Consumer,
	reconciler Reconciler,
	concurrency int,
	logger *zap.Logger,
) (*ReconcileWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcileWorker{
		consumer:    consumer,
		reconciler:  reconciler,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *ReconcileWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs concurrency consumers on the reconcile queue until ctx is canceled.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("reconcile worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, queue.ReconcileQueue, w.processMessage); err != nil {
				w.logger.Error("reconcile worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("reconcile worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage acks every settled outcome. Only an Unavailable result is
// returned as an error, which dead-letters the message; the mapping stays
// STALE and the stale scanner offers it again.
func (w *ReconcileWorker) processMessage(ctx context.Context, msg queue.ReconcileMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	w.metrics.IncWorkerInFlight(queue.ReconcileQueue)
	defer w.metrics.DecWorkerInFlight(queue.ReconcileQueue)

	result := w.reconciler.Reconcile(ctx, msg.SourceID)

	logger := observability.ForSource(w.logger, ctx, msg.SourceID)
	if result.Retryable() {
		return fmt.Errorf("reconcile %s: %s", msg.SourceID, result.Detail)
	}
	if !result.IsSuccess() {
		logger.Info("reconcile settled without sync",
			zap.String("outcome", result.Outcome.String()),
			zap.String("detail", result.Detail),
			zap.String("reason", msg.Reason),
		)
	}
	return nil
}
