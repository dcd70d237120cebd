package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Build       BuildConfig       `yaml:"build"`
	Queue       QueueConfig       `yaml:"queue"`
	GitHub      GitHubConfig      `yaml:"github"`
	Auth        AuthConfig        `yaml:"auth"`
	Lease       LeaseConfig       `yaml:"lease"`
	NATS        NATSConfig        `yaml:"nats"`
	Publish     PublishConfig     `yaml:"publish"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServerConfig controls the HTTP listener and the URLs used in redirects.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Environment     string   `yaml:"environment"`
	FrontendURL     string   `yaml:"frontend_url"`
	BackendURL      string   `yaml:"backend_url"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether the environment is "production".
func (s ServerConfig) IsProduction() bool { return s.Environment == "production" }

// StorageConfig locates the artifacts root and the SQLite databases.
type StorageConfig struct {
	ArtifactsPath      string `yaml:"artifacts_path"`
	DatabasePath       string `yaml:"database_path"`
	EventsDatabasePath string `yaml:"events_database_path"`
}

// BuildConfig tunes the build pipeline.
type BuildConfig struct {
	CloneTimeout   Duration `yaml:"clone_timeout"`
	StepTimeout    Duration `yaml:"step_timeout"`
	CloneDepth     int      `yaml:"clone_depth"`
	InstallCommand []string `yaml:"install_command"`
	BuildCommand   []string `yaml:"build_command"`
	OutputDirs     []string `yaml:"output_dirs"`
	InjectBaseHref bool     `yaml:"inject_base_href"`
	RenderReadme   *bool    `yaml:"render_readme,omitempty"`
	MaxLogBytes    int      `yaml:"max_log_bytes"`
}

// ReadmeEnabled reports whether README rendering is on (default true).
func (b BuildConfig) ReadmeEnabled() bool {
	return b.RenderReadme == nil || *b.RenderReadme
}

// QueueConfig sizes the async build worker pool.
type QueueConfig struct {
	Workers int         `yaml:"workers"`
	Size    int         `yaml:"size"`
	Retry   RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors retry.Policy fields.
type RetryConfig struct {
	Backoff    string   `yaml:"backoff"` // fixed|linear|exponential
	Initial    Duration `yaml:"initial"`
	Max        Duration `yaml:"max"`
	MaxRetries int      `yaml:"max_retries"`
}

// GitHubConfig holds OAuth app credentials and webhook settings.
type GitHubConfig struct {
	APIURL           string `yaml:"api_url"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	Token            string `yaml:"token"`
	WebhookSecret    string `yaml:"webhook_secret"`
	WebhookURL       string `yaml:"webhook_url"`
	RegisterWebhooks bool   `yaml:"register_webhooks"`
}

// AuthMode selects how request identity is established.
type AuthMode string

const (
	AuthModeMock AuthMode = "mock"
	AuthModeJWT  AuthMode = "jwt"
)

// AuthConfig configures request identity.
type AuthConfig struct {
	Mode        AuthMode `yaml:"mode"`
	JWTSecret   string   `yaml:"jwt_secret"`
	DefaultUser string   `yaml:"default_user"`
}

// LeaseConfig selects the per-prototype build lease backend.
// An empty RedisAddr keeps leases in-process.
type LeaseConfig struct {
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	TTL           Duration `yaml:"ttl"`
}

// NATSConfig enables build lifecycle publication when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// PublishConfig enables mirroring output trees to S3-compatible storage.
type PublishConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether an object store is configured.
func (p PublishConfig) Enabled() bool { return p.Endpoint != "" }

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// IsEnabled reports whether metrics are exposed (default true).
func (m MetricsConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// MaintenanceConfig schedules background sweeps.
type MaintenanceConfig struct {
	SweepInterval Duration `yaml:"sweep_interval"`
	StaleTempAge  Duration `yaml:"stale_temp_age"`
}

// Duration is a time.Duration that unmarshals from strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads configPath, expands ${VAR} references, applies environment
// overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and environment variables only.
func FromEnv() (*Config, error) {
	loadEnvFiles()
	cfg := &Config{}
	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// loadEnvFiles loads .env then .env.local; variables already set win.
func loadEnvFiles() {
	for _, p := range []string{".env", ".env.local"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("Failed to load env file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("Loaded environment file", slog.String("path", p))
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setIfEnv(&cfg.Server.Environment, "NODE_ENV")
	setIfEnv(&cfg.Server.FrontendURL, "FRONTEND_URL")
	setIfEnv(&cfg.Server.BackendURL, "BACKEND_URL")
	setIfEnv(&cfg.Storage.ArtifactsPath, "BUILD_ARTIFACTS_PATH")
	setIfEnv(&cfg.GitHub.ClientID, "GITHUB_CLIENT_ID")
	setIfEnv(&cfg.GitHub.ClientSecret, "GITHUB_CLIENT_SECRET")
	setIfEnv(&cfg.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	setIfEnv(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setIfEnv(&cfg.Auth.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("AUTH_MODE"); v != "" {
		cfg.Auth.Mode = AuthMode(v)
	}
	setIfEnv(&cfg.Logging.Level, "LOG_LEVEL")
	setIfEnv(&cfg.Logging.Format, "LOG_FORMAT")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
