// Package retention periodically prunes rows older than a configured
// window from the store, keeping disk usage bounded for a service that
// otherwise never deletes anything on its own.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/store"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper deletes rows older than Window on a fixed tick.
type Sweeper struct {
	storage  store.Storage
	logger   *zap.Logger
	window   time.Duration
	interval time.Duration
}

// New builds a Sweeper that deletes rows older than window, checking
// every interval. If interval is zero, defaultSweepInterval is used.
func New(storage store.Storage, logger *zap.Logger, window, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{storage: storage, logger: logger, window: window, interval: interval}
}

// Run blocks, sweeping on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.window)
	deleted, err := s.storage.DeleteOlderThan(cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("retention sweep completed", zap.Int("deleted", deleted), zap.Time("cutoff", cutoff))
	}
}
