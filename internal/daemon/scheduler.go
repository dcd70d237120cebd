package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// Scheduler wraps gocron for the daemon's periodic maintenance tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler and waits for running tasks.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs task every interval. A run that is still going when the
// next one is due causes that one to be skipped.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, task func(context.Context)) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("interval for %s must be positive: %s", name, interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) { s.run(ctx, name, task) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create %s job: %w", name, err)
	}
	slog.Debug("Scheduled maintenance job", logfields.ScheduleName(name), logfields.ScheduleID(job.ID().String()),
		slog.Duration("interval", interval))
	return job.ID().String(), nil
}

func (s *Scheduler) run(ctx context.Context, name string, task func(context.Context)) {
	start := time.Now()
	task(ctx)
	slog.Debug("Maintenance job finished", logfields.ScheduleName(name),
		logfields.DurationMS(time.Since(start).Milliseconds()))
}
