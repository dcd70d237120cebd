package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a freshly loaded and validated configuration.
type ReloadFunc func(ctx context.Context, cfg *Config) error

// Watcher monitors the configuration file and invokes a ReloadFunc on change.
type Watcher struct {
	configPath   string
	onReload     ReloadFunc
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopOnce     sync.Once
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher for configPath.
func NewWatcher(configPath string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &Watcher{
		configPath:   absPath,
		onReload:     onReload,
		watcher:      fw,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// SetDebounce overrides the quiet period between a change and the reload.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounceTime = d }

// Start watches the directory containing the config file; editors that
// replace files by rename would otherwise drop the watch.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	slog.Info("Starting configuration watcher", slog.String("path", w.configPath))

	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop ends both loops and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", slog.String("error", err.Error()))
		}
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				slog.Debug("Config file change detected", slog.String("file", event.Name), slog.String("op", event.Op.String()))
				w.trigger()
			case event.Has(fsnotify.Remove):
				slog.Warn("Config file removed", slog.String("file", event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.reloadChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, func() {
				if err := w.reload(ctx); err != nil {
					slog.Error("Failed to reload configuration", slog.String("error", err.Error()))
				}
			})
		}
	}
}

func (w *Watcher) trigger() {
	select {
	case w.reloadChan <- struct{}{}:
	default:
	}
}

func (w *Watcher) reload(ctx context.Context) error {
	slog.Info("Reloading configuration", slog.String("path", w.configPath))
	cfg, err := Load(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := w.onReload(ctx, cfg); err != nil {
		return fmt.Errorf("failed to apply new configuration: %w", err)
	}
	slog.Info("Configuration reloaded successfully")
	return nil
}
