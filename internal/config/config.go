// Package config loads runner configuration from YAML with CASCADE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level runner configuration.
type Config struct {
	Log          LogConfig           `yaml:"log"`
	State        StateConfig         `yaml:"state"`
	Workers      WorkerConfig        `yaml:"workers"`
	RateLimiters []RateLimiterConfig `yaml:"rate_limiters" validate:"unique=ID,dive"`
	Metrics      MetricsConfig       `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// StateConfig selects the backend that persists flow cursors.
type StateConfig struct {
	Backend   string `yaml:"backend" validate:"required,oneof=memory file redis sqlite postgres mongo"`
	Namespace string `yaml:"namespace"`

	// Dir is the root of the file backend.
	Dir string `yaml:"dir" validate:"required_if=Backend file"`

	RedisAddr   string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix string `yaml:"redis_prefix"`

	// DSN is a SQLite file name or a PostgreSQL connection string.
	DSN string `yaml:"dsn" validate:"required_if=Backend sqlite,required_if=Backend postgres"`

	MongoURI      string `yaml:"mongo_uri" validate:"required_if=Backend mongo"`
	MongoDatabase string `yaml:"mongo_database"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=1"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	Backoff     time.Duration `yaml:"backoff" validate:"gte=0"`
	LeaseTTL    time.Duration `yaml:"lease_ttl" validate:"gt=0"`

	// Queue is "memory" or "sqlite"; QueueDSN is the SQLite file for the latter.
	Queue    string `yaml:"queue" validate:"oneof=memory sqlite"`
	QueueDSN string `yaml:"queue_dsn" validate:"required_if=Queue sqlite"`
}

// RateLimiterConfig declares a shared limiter nodes refer to by ID.
type RateLimiterConfig struct {
	ID       string        `yaml:"id" validate:"required"`
	Capacity int           `yaml:"capacity" validate:"gt=0"`
	Window   time.Duration `yaml:"window" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Tracing   bool   `yaml:"tracing"`
}

// Default returns the configuration used when no file is given: in-memory
// state, four workers and an in-memory queue.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "json"},
		State: StateConfig{Backend: "memory", Namespace: "default", RedisPrefix: "cascade:"},
		Workers: WorkerConfig{
			Concurrency: 4,
			MaxAttempts: 3,
			Backoff:     time.Second,
			LeaseTTL:    30 * time.Second,
			Queue:       "memory",
		},
		Metrics: MetricsConfig{Namespace: "cascade"},
	}
}

// Load reads path (if not empty) over the defaults, applies CASCADE_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults without reading the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ApplyEnv overrides fields from CASCADE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("CASCADE_LOG_LEVEL", &c.Log.Level)
	str("CASCADE_LOG_FORMAT", &c.Log.Format)
	str("CASCADE_STATE_BACKEND", &c.State.Backend)
	str("CASCADE_STATE_NAMESPACE", &c.State.Namespace)
	str("CASCADE_STATE_DIR", &c.State.Dir)
	str("CASCADE_STATE_DSN", &c.State.DSN)
	str("CASCADE_REDIS_ADDR", &c.State.RedisAddr)
	str("CASCADE_REDIS_PREFIX", &c.State.RedisPrefix)
	str("CASCADE_MONGO_URI", &c.State.MongoURI)
	str("CASCADE_MONGO_DATABASE", &c.State.MongoDatabase)
	str("CASCADE_WORKERS_QUEUE", &c.Workers.Queue)
	str("CASCADE_WORKERS_QUEUE_DSN", &c.Workers.QueueDSN)

	if v, ok := lookup("CASCADE_WORKERS_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASCADE_WORKERS_CONCURRENCY: %w", err)
		}
		c.Workers.Concurrency = n
	}
	if v, ok := lookup("CASCADE_WORKERS_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASCADE_WORKERS_MAX_ATTEMPTS: %w", err)
		}
		c.Workers.MaxAttempts = n
	}
	if v, ok := lookup("CASCADE_WORKERS_BACKOFF"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CASCADE_WORKERS_BACKOFF: %w", err)
		}
		c.Workers.Backoff = d
	}
	if v, ok := lookup("CASCADE_METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CASCADE_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = b
	}
	if v, ok := lookup("CASCADE_TRACING_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CASCADE_TRACING_ENABLED: %w", err)
		}
		c.Metrics.Tracing = b
	}
	return nil
}
