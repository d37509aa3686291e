package pipeline

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/feed-ingest-etl/internal/observability"
)

// Job binds a fetcher to its partition column and schedule.
type Job struct {
	Fetcher      Fetcher
	PartitionKey string
	Schedule     Schedule
}

// Scheduler triggers each job on its own schedule. Jobs run concurrently
// with each other; a job never overlaps with itself.
type Scheduler struct {
	pipeline   *Pipeline
	jobs       []Job
	clock      clockwork.Clock
	runOnStart bool
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRunOnStart runs every job once immediately before following its schedule.
func WithRunOnStart(enabled bool) SchedulerOption {
	return func(s *Scheduler) { s.runOnStart = enabled }
}

// WithSchedulerClock sets the time source used to wait between runs.
func WithSchedulerClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler creates a scheduler for jobs.
func NewScheduler(p *Pipeline, jobs []Job, logger *slog.Logger, metrics *observability.Metrics, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		pipeline: p,
		jobs:     jobs,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is cancelled. A failed cycle is logged and the job
// waits for its next scheduled time.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.metrics.SchedulerActive.Set(1)
	defer s.metrics.SchedulerActive.Set(0)

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.runJob(ctx, job)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	name := job.Fetcher.Name()
	next := s.clock.Now()
	if !s.runOnStart {
		next = job.Schedule.Next(next)
	}
	s.logger.Info("job scheduled", "client", name, "schedule", job.Schedule.String(), "next_run", next)

	for {
		timer := s.clock.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		// Errors are already logged and counted by the pipeline.
		_, _ = s.pipeline.RunOnce(ctx, job.Fetcher, job.PartitionKey)
		if ctx.Err() != nil {
			return
		}

		next = job.Schedule.Next(s.clock.Now())
		s.logger.Debug("job rescheduled", "client", name, "next_run", next)
	}
}
