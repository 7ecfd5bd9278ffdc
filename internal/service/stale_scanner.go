package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultStaleScanInterval = time.Minute
	defaultStaleScanLimit    = 100
)

// StaleScanner periodically republishes STALE mappings to the reconcile queue.
type StaleScanner struct {
	mappings  repository.MappingRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
}

func NewStaleScanner(
	mappings repository.MappingRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*StaleScanner, error) {
	if mappings == nil {
		return nil, fmt.Errorf("mapping repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultStaleScanInterval
	}
	if limit <= 0 {
		limit = defaultStaleScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StaleScanner{
		mappings:  mappings,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (s *StaleScanner) Start(ctx context.Context) error {
	if err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stale scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stale scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *StaleScanner) scan(ctx context.Context) error {
	stale, err := s.mappings.ListByState(ctx, domain.MappingStateStale, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale mappings: %w", err)
	}

	for i := range stale {
		mapping := stale[i]
		msg := queue.ReconcileMessage{
			SourceID:      mapping.SourceID,
			CorrelationID: uuid.NewString(),
			Reason:        queue.ReasonStale,
		}

		if err := s.publisher.Publish(ctx, queue.ReconcileQueue, msg); err != nil {
			s.logger.Error("failed to enqueue stale mapping",
				zap.String("sourceId", mapping.SourceID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
