package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxBatchSize     = 100
	DefaultBatchConcurrency = 4
)

type Creator interface {
	Create(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result
}

type BatchItem struct {
	SourceID   string
	Attributes domain.Attributes
}

type BatchItemResult struct {
	Index    int
	SourceID string
	Result   domain.Result
}

type BatchResult struct {
	Batch domain.Batch
	Items []BatchItemResult
}

// BatchCoordinator fans a list of creates out over a bounded worker pool.
// One failing item never stops the others.
type BatchCoordinator struct {
	creator     Creator
	batches     repository.BatchRepository
	maxSize     int
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewBatchCoordinator(
	creator Creator,
	batches repository.BatchRepository,
	maxSize int,
	concurrency int,
	logger *zap.Logger,
) (*BatchCoordinator, error) {
	if creator == nil {
		return nil, fmt.Errorf("creator is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchCoordinator{
		creator:     creator,
		batches:     batches,
		maxSize:     maxSize,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (c *BatchCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

type indexedResult struct {
	index  int
	result domain.Result
}

// CreateBatch runs Create for every item and returns the results in input
// order. Dispatched creates run on a context detached from ctx; canceling ctx
// only stops the wait, and items that never started are reported as
// Unavailable.
func (c *BatchCoordinator) CreateBatch(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one item", domain.ErrValidation)
	}
	if len(items) > c.maxSize {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, c.maxSize)
	}

	logger := observability.WithContextLogger(c.logger, ctx)

	now := c.now().UTC()
	batch := &domain.Batch{
		ID:         uuid.NewString(),
		TotalCount: len(items),
		Status:     domain.BatchStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	results := make(chan indexedResult, len(items))
	gate := &dispatchGate{}
	detached := context.WithoutCancel(ctx)

	go func() {
		var g errgroup.Group
		slots := make(chan struct{}, c.concurrency)
		for i := range items {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
			}
			if !gate.launch(ctx) {
				break
			}
			index := i
			item := items[i]
			g.Go(func() error {
				defer func() { <-slots }()
				results <- indexedResult{index: index, result: c.creator.Create(detached, item.SourceID, item.Attributes)}
				return nil
			})
		}
		_ = g.Wait()
	}()

	collected := make([]domain.Result, len(items))
	received := make([]bool, len(items))
	remaining := len(items)

wait:
	for remaining > 0 {
		select {
		case r := <-results:
			collected[r.index] = r.result
			received[r.index] = true
			remaining--
		case <-ctx.Done():
			break wait
		}
	}

	if remaining > 0 {
		started := gate.stop()
		for i := range collected {
			if received[i] {
				continue
			}
			if i < started {
				collected[i] = domain.Unavailable("canceled while in flight")
			} else {
				collected[i] = domain.Unavailable("canceled")
			}
		}
		logger.Warn("batch wait canceled",
			zap.String("batchId", batch.ID),
			zap.Int("pending", remaining),
		)
	}

	out := &BatchResult{Items: make([]BatchItemResult, len(items))}
	batch.Items = make([]domain.BatchItemOutcome, len(items))
	for i := range items {
		out.Items[i] = BatchItemResult{Index: i, SourceID: items[i].SourceID, Result: collected[i]}
		batch.Items[i] = domain.BatchItemOutcome{
			Index:      i,
			SourceID:   items[i].SourceID,
			Outcome:    collected[i].Outcome,
			StatusCode: collected[i].StatusCode(),
			Detail:     collected[i].Detail,
		}
		if collected[i].IsSuccess() {
			batch.SucceededCount++
			c.metrics.IncBatchItem("success")
		} else {
			batch.FailedCount++
			c.metrics.IncBatchItem("failure")
		}
	}

	batch.Status = domain.BatchStatusCompleted
	if batch.FailedCount > 0 {
		batch.Status = domain.BatchStatusPartialFailure
	}
	batch.UpdatedAt = c.now().UTC()

	if err := c.batches.Complete(context.WithoutCancel(ctx), batch); err != nil {
		logger.Error("failed to complete batch",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}

	if batch.FailedCount > 0 {
		logger.Warn("batch completed with partial failure",
			zap.String("batchId", batch.ID),
			zap.Int("failed", batch.FailedCount),
			zap.Int("total", batch.TotalCount),
		)
	}

	out.Batch = *batch
	return out, nil
}

// dispatchGate decides, atomically with the collector giving up, whether the
// next item may still start. Items are launched in order, so the count of
// launched items tells the collector which missing results are in flight.
type dispatchGate struct {
	mu       sync.Mutex
	stopped  bool
	launched int
}

func (g *dispatchGate) launch(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || ctx.Err() != nil {
		return false
	}
	g.launched++
	return true
}

func (g *dispatchGate) stop() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	return g.launched
}

func (c *BatchCoordinator) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	return c.batches.GetByID(ctx, id)
}
