package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/config"
	"git.home.luguber.info/inful/protohost/internal/logfields"
)

const eventPruneInterval = 6 * time.Hour

func (d *Daemon) scheduleMaintenance(m config.MaintenanceConfig) error {
	every := m.SweepInterval.Std()
	if _, err := d.scheduler.ScheduleEvery("sweep-stale-temp", every, d.sweepStaleTemp); err != nil {
		return err
	}
	if _, err := d.scheduler.ScheduleEvery("recover-stuck-builds", every, d.recoverStuckBuilds); err != nil {
		return err
	}
	_, err := d.scheduler.ScheduleEvery("prune-build-events", eventPruneInterval, d.pruneEvents)
	return err
}

// sweepStaleTemp removes clone and staging directories that outlived any
// build, skipping prototypes that are building right now.
func (d *Daemon) sweepStaleTemp(ctx context.Context) {
	maxAge := d.Config().Maintenance.StaleTempAge.Std()
	n, err := d.layout.SweepStale(maxAge, func(id string) bool {
		return d.orchestrator.Building(ctx, id)
	})
	if err != nil {
		slog.Warn("Stale temp sweep incomplete", logfields.Error(err))
	}
	if n > 0 {
		slog.Info("Removed stale temp directories", slog.Int("count", n))
	}
}

// recoverStuckBuilds fails records that stayed started for longer than any
// build can take and whose prototype holds no lease.
func (d *Daemon) recoverStuckBuilds(ctx context.Context) {
	cutoff := time.Now().Add(-maxBuildDuration(d.orchestrator.Settings()))
	n, err := d.store.RecoverInterrupted(ctx, cutoff, func(id string) bool {
		return d.orchestrator.Building(ctx, id)
	})
	if err != nil {
		slog.Warn("Stuck build recovery failed", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Warn("Recovered stuck builds", slog.Int("count", n))
	}
}

func (d *Daemon) pruneEvents(ctx context.Context) {
	n, err := d.events.Prune(ctx, time.Now().Add(-eventRetention))
	if err != nil {
		slog.Warn("Build event pruning failed", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Info("Pruned build events", slog.Int64("count", n))
	}
}

// maxBuildDuration is the longest a build can run: clone plus install and build steps.
func maxBuildDuration(s build.Settings) time.Duration {
	return s.CloneTimeout + 2*s.StepTimeout + time.Minute
}
