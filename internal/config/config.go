// Package config loads the service configuration from a TOML file with
// RESTLC_* environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cast"

	"rest-lifecycle/internal/model"
)

const envPrefix = "RESTLC_"

// Config holds configuration for the service.
type Config struct {
	ListenAddr string `toml:"listen_addr" validate:"required"`
	LogLevel   string `toml:"log_level" validate:"oneof=debug info warn error"`

	// Workers is the number of transport goroutines.
	Workers      int    `toml:"workers" validate:"min=1"`
	QueueBackend string `toml:"queue_backend" validate:"oneof=memory redis"`
	QueueSize    int    `toml:"queue_size" validate:"min=1"`
	Redis        Redis  `toml:"redis"`

	HTTPTimeout string  `toml:"http_timeout" validate:"required"`
	RateLimit   float64 `toml:"rate_limit" validate:"min=0"`
	RateBurst   int     `toml:"rate_burst" validate:"min=0"`

	// SuccessMin and SuccessMax bound the result codes treated as success.
	SuccessMin int `toml:"success_min" validate:"min=100,max=599"`
	SuccessMax int `toml:"success_max" validate:"min=100,max=599,gtefield=SuccessMin"`

	Policy          string `toml:"policy" validate:"oneof=always resource_state fingerprint"`
	PolicyTTL       string `toml:"policy_ttl"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db" validate:"min=0"`
	Key      string `toml:"key"`
	// Instance scopes Key to this process. Defaults to the hostname.
	Instance string `toml:"instance"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:   ":8080",
		LogLevel:     "info",
		Workers:      5,
		QueueBackend: "memory",
		QueueSize:    1024,
		Redis: Redis{
			Addr: "localhost:6379",
			Key:  "restlc_jobs",
		},
		HTTPTimeout:     "10s",
		SuccessMin:      model.DefaultSuccessRange.Min,
		SuccessMax:      model.DefaultSuccessRange.Max,
		Policy:          "resource_state",
		PolicyTTL:       "5m",
		ShutdownTimeout: "15s",
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RESTLC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := cast.ToIntE(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
		return nil
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("QUEUE_BACKEND", &c.QueueBackend)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("REDIS_KEY", &c.Redis.Key)
	str("REDIS_INSTANCE", &c.Redis.Instance)
	str("HTTP_TIMEOUT", &c.HTTPTimeout)
	str("POLICY", &c.Policy)
	str("POLICY_TTL", &c.PolicyTTL)
	str("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	for name, dst := range map[string]*int{
		"WORKERS":     &c.Workers,
		"QUEUE_SIZE":  &c.QueueSize,
		"REDIS_DB":    &c.Redis.DB,
		"RATE_BURST":  &c.RateBurst,
		"SUCCESS_MIN": &c.SuccessMin,
		"SUCCESS_MAX": &c.SuccessMax,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(envPrefix + "RATE_LIMIT"); ok {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return fmt.Errorf("config: %sRATE_LIMIT: %w", envPrefix, err)
		}
		c.RateLimit = f
	}
	return nil
}

// Validate checks field constraints and duration syntax.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.QueueBackend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required for the redis backend")
	}
	for name, v := range map[string]string{
		"http_timeout":     c.HTTPTimeout,
		"policy_ttl":       c.PolicyTTL,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := cast.ToDurationE(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Timeout() time.Duration          { return duration(c.HTTPTimeout, 10*time.Second) }
func (c *Config) PolicyExpiry() time.Duration     { return duration(c.PolicyTTL, 5*time.Minute) }
func (c *Config) ShutdownDeadline() time.Duration { return duration(c.ShutdownTimeout, 15*time.Second) }

// InstanceID returns Redis.Instance, falling back to the hostname and then
// to a random identifier.
func (c *Config) InstanceID() string {
	if c.Redis.Instance != "" {
		return c.Redis.Instance
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func (c *Config) SuccessRange() model.SuccessRange {
	return model.SuccessRange{Min: c.SuccessMin, Max: c.SuccessMax}
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func duration(v string, fallback time.Duration) time.Duration {
	d, err := cast.ToDurationE(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
