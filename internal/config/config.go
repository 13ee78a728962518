// Package config loads argent's runtime configuration: built-in defaults,
// then an optional TOML file, then environment variables (a .env file in the
// working directory is loaded first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"argent/pkg/agent"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration read from strings like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full runtime configuration.
type Config struct {
	DBPath      string `toml:"db_path" env:"ARGENT_DB_PATH"`
	CatalogPath string `toml:"catalog_path" env:"ARGENT_CATALOG"`

	GeminiAPIKey string `toml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiModel  string `toml:"gemini_model" env:"ARGENT_GEMINI_MODEL"`

	// AgentResponses enables background replies to player messages.
	AgentResponses bool `toml:"agent_responses_enabled" env:"ARGENT_AGENT_RESPONSES"`
	// ForceImmediate runs every story beat immediately regardless of mode.
	ForceImmediate bool `toml:"force_immediate" env:"ARGENT_FORCE_IMMEDIATE"`

	PipelineWorkers int      `toml:"pipeline_workers" env:"ARGENT_PIPELINE_WORKERS"`
	PipelineQueue   int      `toml:"pipeline_queue" env:"ARGENT_PIPELINE_QUEUE"`
	HistoryWindow   int      `toml:"history_window" env:"ARGENT_HISTORY_WINDOW"`
	JobPoll         Duration `toml:"job_poll_interval" env:"ARGENT_JOB_POLL_INTERVAL"`

	EmailEnabled bool `toml:"email_enabled" env:"ARGENT_EMAIL_ENABLED"`
	SMSEnabled   bool `toml:"sms_enabled" env:"ARGENT_SMS_ENABLED"`

	MongoURI      string `toml:"mongo_uri" env:"MONGODB_URI"`
	MongoDatabase string `toml:"mongo_database" env:"ARGENT_MONGO_DATABASE"`

	OTelEndpoint string `toml:"otel_endpoint" env:"ARGENT_OTEL_ENDPOINT"`
	LogLevel     string `toml:"log_level" env:"ARGENT_LOG_LEVEL"`
}

// Default returns the built-in configuration for paths.
func Default(paths *Paths) Config {
	return Config{
		DBPath:          paths.DBPath,
		CatalogPath:     paths.CatalogPath,
		GeminiModel:     agent.DefaultModel,
		AgentResponses:  true,
		PipelineWorkers: 4,
		PipelineQueue:   64,
		HistoryWindow:   10,
		JobPoll:         Duration{5 * time.Second},
		MongoDatabase:   "argent",
		LogLevel:        "info",
	}
}

// Load resolves paths and builds the configuration. configPath overrides the
// resolved config file; a missing file is not an error.
func Load(configPath string) (Config, *Paths, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil, fmt.Errorf("load .env: %w", err)
	}

	paths, err := ResolvePaths()
	if err != nil {
		return Config{}, nil, err
	}
	if configPath == "" {
		configPath = paths.ConfigPath
	}

	cfg := Default(paths)
	data, err := os.ReadFile(configPath) //nolint:gosec // path comes from flag or ARGENT_HOME
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Config{}, nil, fmt.Errorf("read %s: %w", configPath, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, paths, nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is empty"))
	}
	if c.PipelineWorkers < 1 {
		errs = append(errs, fmt.Errorf("pipeline_workers must be positive, got %d", c.PipelineWorkers))
	}
	if c.PipelineQueue < 1 {
		errs = append(errs, fmt.Errorf("pipeline_queue must be positive, got %d", c.PipelineQueue))
	}
	if c.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("history_window must not be negative, got %d", c.HistoryWindow))
	}
	if c.JobPoll.Duration <= 0 {
		errs = append(errs, fmt.Errorf("job_poll_interval must be positive, got %s", c.JobPoll))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RepliesEnabled reports whether player messages get generated replies.
func (c Config) RepliesEnabled() bool {
	return c.AgentResponses && c.GeminiAPIKey != ""
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
