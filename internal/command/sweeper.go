package command

import (
	"context"
	"time"
)

// Sweeper periodically returns stale claims to pending.
type Sweeper struct {
	queue    *Queue
	interval time.Duration
	timeout  time.Duration
}

// NewSweeper creates a sweeper that checks every interval for claims older than timeout.
func NewSweeper(queue *Queue, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{queue: queue, interval: interval, timeout: timeout}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.queue.ResetStale(ctx, s.timeout); err != nil && ctx.Err() == nil {
			s.queue.logger.Error("stale command sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
