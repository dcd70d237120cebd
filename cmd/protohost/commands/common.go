// Package commands implements the protohost CLI.
package commands

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/protohost/internal/config"
)

// Global is passed to every command's Run.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"protohost.yaml" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" help:"Log format (text|json); overrides logging.format" enum:",text,json" default:""`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon  DaemonCmd  `cmd:"" help:"Run the API, hosting server and build workers"`
	Build   BuildCmd   `cmd:"" help:"Build one prototype now and exit"`
	History HistoryCmd `cmd:"" help:"Show recent build records of a prototype"`
	Init    InitCmd    `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing and installs a default logger.
func (c *CLI) AfterApply(g *Global) error {
	g.Logger = newLogger(os.Stderr, levelFor(c.Verbose, ""), c.LogFormat)
	slog.SetDefault(g.Logger)
	return nil
}

// loadConfig reads the configuration file, falling back to environment-only
// configuration when the file does not exist, and re-applies logging settings.
func (c *CLI) loadConfig(g *Global) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(c.Config); statErr == nil {
		cfg, err = config.Load(c.Config)
	} else {
		slog.Debug("No configuration file, using environment", slog.String("path", c.Config))
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	format := c.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	g.Logger = newLogger(os.Stderr, levelFor(c.Verbose, cfg.Logging.Level), format)
	slog.SetDefault(g.Logger)
	return cfg, nil
}

func levelFor(verbose bool, configured string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(configured))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
