package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Sweeper periodically declines overdue review assignments so they get reassigned.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(expirer Expirer, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// A non-positive interval disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("review sweeper disabled")
		return
	}

	s.logger.Info("review sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("review sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("expire overdue assignments", zap.Int("expired", expired), zap.Error(err))
		}
		return
	}
	if expired > 0 {
		s.logger.Info("overdue assignments expired", zap.Int("expired", expired))
	}
}
