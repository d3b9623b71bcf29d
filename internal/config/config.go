// Package config loads runtime configuration from environment variables.
// All knobs use the FOLIO_ prefix except DATABASE_URL, which follows the
// conventional name so it works unchanged with managed Postgres offerings.
package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Addr     string `env:"FOLIO_ADDR" envDefault:":8080"`
	LogLevel string `env:"FOLIO_LOG_LEVEL" envDefault:"info"`

	// UploadsDir is the storage root. Every managed file lives under it and
	// no request may resolve outside it.
	UploadsDir string `env:"FOLIO_UPLOADS_DIR" envDefault:"./uploads"`

	// WebDir holds static frontend assets served at "/". Serving is skipped
	// when the directory does not exist.
	WebDir string `env:"FOLIO_WEB_DIR" envDefault:"./web/dist"`

	// DatabaseURL is the Postgres DSN backing the expiration task store.
	DatabaseURL string `env:"DATABASE_URL"`

	// IDLength is the number of base62 characters in generated upload ids.
	IDLength int `env:"FOLIO_ID_LENGTH" envDefault:"8"`

	// DefaultTTL applies to uploads that do not pass an expire parameter.
	DefaultTTL time.Duration `env:"FOLIO_DEFAULT_TTL" envDefault:"168h"`

	CORSOrigins []string `env:"FOLIO_CORS_ORIGINS" envDefault:"*"`

	Scheduler SchedulerConfig `envPrefix:"FOLIO_SCHEDULER_"`
	Archive   ArchiveConfig   `envPrefix:"FOLIO_ARCHIVE_"`
}

// SchedulerConfig tunes the expiration worker loop.
type SchedulerConfig struct {
	// PollInterval is how often the worker looks for due tasks.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	// ActivityTimeout bounds a single deletion attempt so a stuck filesystem
	// cannot wedge the worker.
	ActivityTimeout time.Duration `env:"ACTIVITY_TIMEOUT" envDefault:"10s"`

	// MaxAttempts is the number of deletion attempts before a task is
	// abandoned.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"5"`

	// ClaimLimit caps how many due tasks a single sweep claims.
	ClaimLimit int `env:"CLAIM_LIMIT" envDefault:"100"`
}

// ArchiveConfig configures optional archival of expiring files to
// S3-compatible object storage before deletion. Leaving Endpoint empty
// disables archival.
type ArchiveConfig struct {
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Bucket    string `env:"S3_BUCKET"`
	Prefix    string `env:"S3_PREFIX" envDefault:"expired/"`
}

// Enabled reports whether archival is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != ""
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.IDLength < 1 {
		return errors.New("FOLIO_ID_LENGTH must be positive")
	}
	if c.DefaultTTL <= 0 {
		return errors.New("FOLIO_DEFAULT_TTL must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("FOLIO_SCHEDULER_POLL_INTERVAL must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return errors.New("FOLIO_SCHEDULER_MAX_ATTEMPTS must be positive")
	}
	if c.Archive.Enabled() && c.Archive.Bucket == "" {
		return errors.New("FOLIO_ARCHIVE_S3_BUCKET is required when archival is enabled")
	}
	return nil
}
