package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/protohost/internal/config"
)

// Reload applies a new configuration. Build settings and the webhook secret
// take effect immediately; listener, storage and integration changes are
// logged and need a restart.
func (d *Daemon) Reload(_ context.Context, cfg *config.Config) error {
	prev := d.cfg.Swap(cfg)

	d.orchestrator.UpdateSettings(Settings(cfg.Build))
	d.webhookSecret.Store(cfg.GitHub.WebhookSecret)

	if restart := restartRequired(prev, cfg); len(restart) > 0 {
		slog.Warn("Configuration changes require a restart", slog.Any("sections", restart))
	}
	slog.Info("Configuration reloaded",
		slog.Duration("clone_timeout", cfg.Build.CloneTimeout.Std()),
		slog.Duration("step_timeout", cfg.Build.StepTimeout.Std()),
		slog.Bool("webhook_secret", cfg.GitHub.WebhookSecret != ""))
	return nil
}

func restartRequired(prev, next *config.Config) []string {
	if prev == nil {
		return nil
	}
	var out []string
	if prev.Server != next.Server {
		out = append(out, "server")
	}
	if prev.Storage != next.Storage {
		out = append(out, "storage")
	}
	if prev.Queue != next.Queue {
		out = append(out, "queue")
	}
	if prev.Auth != next.Auth {
		out = append(out, "auth")
	}
	if prev.Lease != next.Lease {
		out = append(out, "lease")
	}
	if prev.NATS != next.NATS {
		out = append(out, "nats")
	}
	if prev.Publish != next.Publish {
		out = append(out, "publish")
	}
	if prev.Maintenance != next.Maintenance {
		out = append(out, "maintenance")
	}
	pg, ng := prev.GitHub, next.GitHub
	pg.WebhookSecret, ng.WebhookSecret = "", ""
	if pg != ng {
		out = append(out, "github")
	}
	if prev.Build.CloneDepth != next.Build.CloneDepth || prev.Build.ReadmeEnabled() != next.Build.ReadmeEnabled() {
		out = append(out, "build")
	}
	return out
}
