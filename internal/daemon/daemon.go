// Package daemon wires the long-running protohost service: stores, build
// orchestrator, queue, HTTP API, maintenance jobs and config hot reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"git.home.luguber.info/inful/protohost/internal/api"
	"git.home.luguber.info/inful/protohost/internal/auth"
	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/build/queue"
	"git.home.luguber.info/inful/protohost/internal/config"
	"git.home.luguber.info/inful/protohost/internal/eventstore"
	"git.home.luguber.info/inful/protohost/internal/git"
	"git.home.luguber.info/inful/protohost/internal/github"
	"git.home.luguber.info/inful/protohost/internal/lease"
	"git.home.luguber.info/inful/protohost/internal/logfields"
	"git.home.luguber.info/inful/protohost/internal/metrics"
	"git.home.luguber.info/inful/protohost/internal/notify"
	"git.home.luguber.info/inful/protohost/internal/process"
	"git.home.luguber.info/inful/protohost/internal/prototype"
	"git.home.luguber.info/inful/protohost/internal/publish"
	"git.home.luguber.info/inful/protohost/internal/readme"
	"git.home.luguber.info/inful/protohost/internal/retry"
	"git.home.luguber.info/inful/protohost/internal/store"
	"git.home.luguber.info/inful/protohost/internal/workspace"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// eventRetention bounds how long build events are kept.
const eventRetention = 30 * 24 * time.Hour

// Daemon owns every long-lived component of the service.
type Daemon struct {
	configPath string
	cfg        atomic.Pointer[config.Config]
	status     atomic.Value // Status
	startTime  time.Time
	mu         sync.Mutex

	store        *store.SQLiteStore
	events       *eventstore.SQLiteStore
	layout       *workspace.Layout
	orchestrator *build.Orchestrator
	queue        *queue.BuildQueue
	service      *prototype.Service
	server       *api.Server
	scheduler    *Scheduler
	watcher      *config.Watcher

	webhookSecret atomic.Value // string
	closers       []io.Closer
}

// New opens the stores and wires every component from cfg. configPath may be
// empty, in which case hot reload is disabled.
func New(ctx context.Context, cfg *config.Config, configPath string) (d *Daemon, err error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	d = &Daemon{configPath: configPath}
	d.cfg.Store(cfg)
	d.status.Store(StatusStopped)
	d.webhookSecret.Store(cfg.GitHub.WebhookSecret)

	defer func() {
		if err != nil {
			d.closeAll()
		}
	}()

	if d.layout, err = workspace.NewLayout(cfg.Storage.ArtifactsPath); err != nil {
		return nil, fmt.Errorf("failed to prepare artifacts directory: %w", err)
	}
	if d.store, err = store.Open(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to open prototype store: %w", err)
	}
	d.closers = append(d.closers, d.store)
	if d.events, err = eventstore.NewSQLiteStore(cfg.Storage.EventsDatabasePath); err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	d.closers = append(d.closers, d.events)

	var (
		recorder       metrics.Recorder = metrics.NoopRecorder{}
		metricsHandler http.Handler
	)
	if cfg.Metrics.IsEnabled() {
		reg := metrics.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
	}

	opts, err := d.orchestratorOptions(ctx, cfg, recorder)
	if err != nil {
		return nil, err
	}
	cloner := git.NewClient(git.WithDepth(cfg.Build.CloneDepth), git.WithToken(cfg.GitHub.Token))
	d.orchestrator = build.NewOrchestrator(d.store, cloner, process.NewExecRunner(), d.layout, opts...)

	d.queue = queue.New(cfg.Queue.Size, cfg.Queue.Workers, d.orchestrator)
	d.queue.ConfigureRetry(retryPolicy(cfg.Queue.Retry))
	d.queue.SetRecorder(recorder)

	gh := github.NewClient(cfg.GitHub.APIURL, cfg.GitHub.Token,
		github.WithWebhook(cfg.GitHub.WebhookURL, cfg.GitHub.WebhookSecret))
	var svcOpts []prototype.ServiceOption
	if cfg.GitHub.RegisterWebhooks {
		svcOpts = append(svcOpts, prototype.WithWebhooks(gh))
	}
	d.service = prototype.NewService(d.store, d.queue, svcOpts...)

	provider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}
	oauth := github.NewOAuth(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret,
		strings.TrimRight(cfg.Server.BackendURL, "/")+"/api/github/auth/callback", oauth2.Endpoint{})

	d.server = api.NewServer(api.Options{
		Addr:           cfg.Server.Addr(),
		Environment:    cfg.Server.Environment,
		FrontendURL:    cfg.Server.FrontendURL,
		MetricsPath:    cfg.Metrics.Path,
		RequestTimeout: cfg.Server.RequestTimeout.Std(),
	}, api.Deps{
		Prototypes:    d.service,
		Hosting:       d.orchestrator,
		Records:       d.store,
		Events:        d.events,
		Jobs:          d.queue,
		Repositories:  gh,
		OAuth:         oauth,
		Auth:          provider,
		Recorder:      recorder,
		Metrics:       metricsHandler,
		WebhookSecret: d.WebhookSecret,
	})

	if d.scheduler, err = NewScheduler(); err != nil {
		return nil, err
	}
	if err := d.scheduleMaintenance(cfg.Maintenance); err != nil {
		return nil, err
	}

	if configPath != "" {
		if d.watcher, err = config.NewWatcher(configPath, d.Reload); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// orchestratorOptions builds the optional collaborators selected by cfg.
func (d *Daemon) orchestratorOptions(ctx context.Context, cfg *config.Config, recorder metrics.Recorder) ([]build.Option, error) {
	opts := []build.Option{
		build.WithRecorder(recorder),
		build.WithSettings(Settings(cfg.Build)),
	}

	if cfg.Lease.RedisAddr != "" {
		rl, err := lease.NewRedis(ctx, cfg.Lease.RedisAddr, cfg.Lease.RedisPassword, cfg.Lease.RedisDB, cfg.Lease.TTL.Std())
		if err != nil {
			return nil, fmt.Errorf("failed to connect lease store: %w", err)
		}
		d.closers = append(d.closers, rl)
		opts = append(opts, build.WithLocker(rl))
		slog.Info("Using Redis build leases", slog.String("addr", cfg.Lease.RedisAddr))
	}

	sinks := build.Sinks{build.NewEventLog(eventstore.NewRecorder(d.events))}
	if cfg.NATS.URL != "" {
		n, err := notify.Connect(ctx, cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		d.closers = append(d.closers, n)
		sinks = append(sinks, n)
		slog.Info("Publishing build events to NATS", slog.String("subject", cfg.NATS.Subject))
	}
	opts = append(opts, build.WithEvents(sinks))

	if cfg.Build.ReadmeEnabled() {
		opts = append(opts, build.WithReadme(readme.New(), d.store))
	}

	if cfg.Publish.Enabled() {
		m, err := publish.New(ctx, publish.Config{
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			Region:    cfg.Publish.Region,
			UseSSL:    cfg.Publish.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure output mirror: %w", err)
		}
		opts = append(opts, build.WithPublisher(m))
		slog.Info("Mirroring output to object storage", slog.String("bucket", cfg.Publish.Bucket))
	}
	return opts, nil
}

// Settings maps the build section of the configuration to orchestrator settings.
func Settings(b config.BuildConfig) build.Settings {
	return build.Settings{
		CloneTimeout:   b.CloneTimeout.Std(),
		StepTimeout:    b.StepTimeout.Std(),
		InstallCommand: append([]string(nil), b.InstallCommand...),
		BuildCommand:   append([]string(nil), b.BuildCommand...),
		OutputDirs:     append([]string(nil), b.OutputDirs...),
		InjectBaseHref: b.InjectBaseHref,
		MaxLogBytes:    b.MaxLogBytes,
	}
}

func retryPolicy(r config.RetryConfig) retry.Policy {
	return retry.NewPolicy(retry.Mode(r.Backoff), r.Initial.Std(), r.Max.Std(), r.MaxRetries)
}

// Orchestrator exposes the build orchestrator, mainly for one-off CLI builds.
func (d *Daemon) Orchestrator() *build.Orchestrator { return d.orchestrator }

// Store exposes the prototype store.
func (d *Daemon) Store() *store.SQLiteStore { return d.store }

// Service exposes the prototype service.
func (d *Daemon) Service() *prototype.Service { return d.service }

// Handler returns the HTTP handler without starting a listener.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config { return d.cfg.Load() }

// WebhookSecret returns the current webhook secret. It follows config reloads.
func (d *Daemon) WebhookSecret() string {
	s, _ := d.webhookSecret.Load().(string)
	return s
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// Start recovers interrupted builds, starts the queue, scheduler, config
// watcher and HTTP server, then blocks until ctx is canceled or the server
// fails. It always shuts down before returning.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	cfg := d.Config()
	slog.Info("Starting protohost daemon",
		slog.String("addr", cfg.Server.Addr()),
		slog.String("environment", cfg.Server.Environment),
		slog.String("artifacts", d.layout.Root()),
		slog.Int("workers", cfg.Queue.Workers))

	// Nothing is building yet, so every started record is left over from a crash.
	if n, err := d.store.RecoverInterrupted(ctx, time.Now(), func(string) bool { return false }); err != nil {
		slog.Error("Failed to recover interrupted builds", logfields.Error(err))
	} else if n > 0 {
		slog.Warn("Recovered interrupted builds", slog.Int("count", n))
	}

	d.queue.Start(ctx)
	d.scheduler.Start()
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := d.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	d.status.Store(StatusRunning)
	d.mu.Unlock()
	slog.Info("Protohost daemon started", slog.String("addr", cfg.Server.Addr()))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			d.status.Store(StatusError)
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := d.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop shuts the HTTP server down gracefully, stops background work and
// closes the stores. It is safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.GetStatus(); s == StatusStopped || s == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping protohost daemon")

	var errs []error
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	d.queue.Stop(ctx)
	d.closeAll()

	d.status.Store(StatusStopped)
	slog.Info("Protohost daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return errors.Join(errs...)
}

// Close releases resources of a daemon that was never started.
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.GetStatus() != StatusStopped {
		return errors.New("daemon is running; use Stop")
	}
	if d.scheduler != nil {
		_ = d.scheduler.Stop()
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	d.closeAll()
	return nil
}

func (d *Daemon) closeAll() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", logfields.Error(err))
		}
	}
	d.closers = nil
}
