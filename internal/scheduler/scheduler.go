package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/elonfeng/topstories/internal/ingest"
)

// Runner performs one ingestion pass.
type Runner interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// Scheduler runs the ingestion pipeline periodically.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      *slog.Logger
}

// New creates a new scheduler.
func New(r Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   r,
		interval: interval,
		log:      logger.With("component", "scheduler"),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("initial collection")
	s.collect(ctx)

	s.log.Info("running", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.collect(ctx)
		}
	}
}

// A failed run is logged and retried on the next tick only.
func (s *Scheduler) collect(ctx context.Context) {
	res, err := s.runner.Run(ctx)
	if err != nil {
		attrs := []any{"error", err}
		if res != nil {
			attrs = append(attrs, "run_id", res.RunID)
		}
		s.log.Error("collection failed", attrs...)
	}
}
