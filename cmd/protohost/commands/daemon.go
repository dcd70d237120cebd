package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/protohost/internal/config"
	"git.home.luguber.info/inful/protohost/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	NoWatch bool `name:"no-watch" help:"Do not reload the configuration file when it changes"`
}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	watchPath := root.Config
	if _, statErr := os.Stat(watchPath); d.NoWatch || statErr != nil {
		watchPath = ""
	}
	return RunDaemon(cfg, watchPath)
}

// RunDaemon runs the service until SIGINT or SIGTERM.
func RunDaemon(cfg *config.Config, configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	slog.Info("Daemon starting, waiting for shutdown signal...", slog.Bool("hot_reload", configPath != ""))
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	slog.Info("Daemon stopped successfully")
	return nil
}
