package config

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/protohost/internal/foundation/normalization"
)

const (
	DefaultPort        = 3001
	DefaultUser        = "test@microsoft.com"
	DefaultNATSSubject = "protohost.builds"
	DefaultBucket      = "prototypes"
)

// leaseMargin is added to the longest build when deriving the default lease TTL.
const leaseMargin = 5 * time.Minute

// MaxDuration is the longest a build can run: clone plus install and build
// steps, plus a minute for bookkeeping.
func (b BuildConfig) MaxDuration() time.Duration {
	return b.CloneTimeout.Std() + 2*b.StepTimeout.Std() + time.Minute
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Environment == "" {
		s.Environment = "development"
	}
	if s.FrontendURL == "" {
		s.FrontendURL = "http://localhost:3000"
	}
	if s.BackendURL == "" {
		s.BackendURL = fmt.Sprintf("http://localhost:%d", s.Port)
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = Duration(60 * time.Second)
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(30 * time.Second)
	}

	st := &cfg.Storage
	if st.ArtifactsPath == "" {
		st.ArtifactsPath = "./build-artifacts"
	}
	if st.DatabasePath == "" {
		st.DatabasePath = "./protohost.db"
	}
	if st.EventsDatabasePath == "" {
		st.EventsDatabasePath = "./protohost-events.db"
	}

	b := &cfg.Build
	if b.CloneTimeout == 0 {
		b.CloneTimeout = Duration(5 * time.Minute)
	}
	if b.StepTimeout == 0 {
		b.StepTimeout = Duration(15 * time.Minute)
	}
	if b.CloneDepth == 0 {
		b.CloneDepth = 1
	}
	if len(b.InstallCommand) == 0 {
		b.InstallCommand = []string{"npm", "install"}
	}
	if len(b.BuildCommand) == 0 {
		b.BuildCommand = []string{"npm", "run", "build"}
	}
	if len(b.OutputDirs) == 0 {
		b.OutputDirs = []string{"build", "dist"}
	}
	if b.MaxLogBytes == 0 {
		b.MaxLogBytes = 1 << 20
	}

	q := &cfg.Queue
	if q.Workers == 0 {
		q.Workers = 2
	}
	if q.Size == 0 {
		q.Size = 100
	}
	if q.Retry.Backoff == "" {
		q.Retry.Backoff = "linear"
	}
	if q.Retry.Initial == 0 {
		q.Retry.Initial = Duration(time.Second)
	}
	if q.Retry.Max == 0 {
		q.Retry.Max = Duration(30 * time.Second)
	}

	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = "https://api.github.com"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeMock
	}
	if cfg.Auth.DefaultUser == "" {
		cfg.Auth.DefaultUser = DefaultUser
	}

	if cfg.Lease.TTL == 0 {
		cfg.Lease.TTL = Duration(b.MaxDuration() + leaseMargin)
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultNATSSubject
	}
	if cfg.Publish.Bucket == "" {
		cfg.Publish.Bucket = DefaultBucket
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Maintenance.SweepInterval == 0 {
		cfg.Maintenance.SweepInterval = Duration(10 * time.Minute)
	}
	if cfg.Maintenance.StaleTempAge == 0 {
		cfg.Maintenance.StaleTempAge = Duration(time.Hour)
	}
}

var backoffNormalizer = normalization.NewNormalizer("queue.retry.backoff", "linear",
	"fixed", "linear", "exponential").Alias("exp", "exponential")

var authModeNormalizer = normalization.NewNormalizer("auth.mode", AuthModeMock, AuthModeMock, AuthModeJWT)

var logFormatNormalizer = normalization.NewNormalizer("logging.format", "text", "text", "json").
	Alias("console", "text")

// normalize rewrites enum fields to their canonical spelling.
func (c *Config) normalize() error {
	var err error
	if c.Queue.Retry.Backoff, err = backoffNormalizer.Parse(c.Queue.Retry.Backoff); err != nil {
		return err
	}
	if c.Auth.Mode, err = authModeNormalizer.Parse(string(c.Auth.Mode)); err != nil {
		return err
	}
	if c.Logging.Format, err = logFormatNormalizer.Parse(c.Logging.Format); err != nil {
		return err
	}
	return nil
}

// Validate normalizes enum fields, then checks field ranges and combinations.
func (c *Config) Validate() error {
	if err := c.normalize(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be positive: %d", c.Queue.Workers)
	}
	if c.Queue.Size < 1 {
		return fmt.Errorf("queue.size must be positive: %d", c.Queue.Size)
	}
	if c.Queue.Retry.MaxRetries < 0 {
		return fmt.Errorf("queue.retry.max_retries cannot be negative")
	}
	if c.Build.CloneDepth < 0 {
		return fmt.Errorf("build.clone_depth cannot be negative")
	}
	switch c.Auth.Mode {
	case AuthModeMock:
		if c.Server.IsProduction() {
			return fmt.Errorf("auth.mode=mock is not allowed in production")
		}
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode=jwt")
		}
	}
	if maxBuild := c.Build.MaxDuration(); c.Lease.TTL.Std() < maxBuild {
		return fmt.Errorf("lease.ttl (%s) must cover the longest build (%s)", c.Lease.TTL.Std(), maxBuild)
	}
	if c.Publish.Enabled() && (c.Publish.AccessKey == "" || c.Publish.SecretKey == "") {
		return fmt.Errorf("publish.access_key and publish.secret_key are required when publish.endpoint is set")
	}
	return nil
}
