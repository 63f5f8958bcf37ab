package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/ports"
)

// Scheduler binds the interval driver to the pipeline for daemon mode.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the pipeline with the provided driver. Each trigger time
// becomes that run's generated_at, so a retriggered tick replays its batch
// instead of duplicating it. A failed run is logged; the next tick still
// fires.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		generatedAt := trigger.UTC().Truncate(time.Second)
		if _, err := s.pipeline.Run(ctx, generatedAt); err != nil {
			s.logger.Error("scheduled run failed", "generated_at", generatedAt, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
