package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPendingSweepInterval = time.Minute
	defaultPendingTTL           = 10 * time.Minute
	defaultPendingSweepLimit    = 100
)

type PendingExpirer interface {
	ExpirePending(ctx context.Context, ttl time.Duration, limit int) (int, error)
}

// PendingSweeper periodically expires PENDING mappings that outlived ttl.
type PendingSweeper struct {
	expirer  PendingExpirer
	logger   *zap.Logger
	interval time.Duration
	ttl      time.Duration
	limit    int
}

func NewPendingSweeper(
	expirer PendingExpirer,
	interval time.Duration,
	ttl time.Duration,
	limit int,
	logger *zap.Logger,
) (*PendingSweeper, error) {
	if expirer == nil {
		return nil, fmt.Errorf("pending expirer is required")
	}
	if interval <= 0 {
		interval = defaultPendingSweepInterval
	}
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	if limit <= 0 {
		limit = defaultPendingSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PendingSweeper{
		expirer:  expirer,
		logger:   logger,
		interval: interval,
		ttl:      ttl,
		limit:    limit,
	}, nil
}

func (s *PendingSweeper) Start(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PendingSweeper) sweep(ctx context.Context) {
	removed, err := s.expirer.ExpirePending(ctx, s.ttl, s.limit)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("pending sweep failed", zap.Error(err), zap.Int("removed", removed))
		}
		return
	}
	if removed > 0 {
		s.logger.Info("pending sweep removed orphaned mappings", zap.Int("removed", removed))
	}
}
