package reconciler

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs reconciler passes on a periodic interval.
type Scheduler struct {
	interval   time.Duration
	reconciler *Reconciler
}

// NewScheduler creates a periodic driver for the given reconciler.
func NewScheduler(interval time.Duration, r *Reconciler) *Scheduler {
	return &Scheduler{
		interval:   interval,
		reconciler: r,
	}
}

// Start begins periodic reconciliation. Runs until context is cancelled,
// then performs one final pass so in-flight counters reach the durable
// store before shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting reconciliation scheduler", "interval", s.interval)

	// Initial pass to catch up with anything left over from a previous run
	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final reconciliation pass before shutdown...")
			s.runOnce(shutdownCtx)
			slog.Info("[Scheduler] Final pass complete")

			return nil
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.reconciler.RunPass(ctx); err != nil {
		slog.Error("[Scheduler] Reconciliation pass failed", "error", err)
	}
}
