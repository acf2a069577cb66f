// Package config loads the registry configuration from defaults, an optional
// config file, REGISTRY_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. REGISTRY_HTTP_ADDR.
const EnvPrefix = "REGISTRY"

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

type Config struct {
	HTTP       HTTP       `mapstructure:"http"`
	Log        Log        `mapstructure:"log"`
	Users      Resource   `mapstructure:"users"`
	Customers  Resource   `mapstructure:"customers"`
	Database   Database   `mapstructure:"database"`
	Redis      Redis      `mapstructure:"redis"`
	Cascade    Cascade    `mapstructure:"cascade"`
	Validation Validation `mapstructure:"validation"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Resource selects the store backend of one HTTP resource.
type Resource struct {
	Backend string `mapstructure:"backend"`
}

type Database struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	SlowQuery    time.Duration `mapstructure:"slow_query"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Migrate applies pending migrations at startup.
	Migrate bool `mapstructure:"migrate"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Cascade struct {
	// BaseURL of the account service; empty disables cascade notifications.
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Validation struct {
	// MinAge is the exclusive lower bound of a customer's age.
	MinAge int `mapstructure:"min_age"`
}

// SetDefaults registers the default of every key. Keys must be known to
// viper for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("users.backend", BackendMemory)
	v.SetDefault("customers.backend", BackendMemory)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.slow_query", 200*time.Millisecond)
	v.SetDefault("database.timeout", 5*time.Second)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cascade.base_url", "http://localhost:8001")
	v.SetDefault("cascade.timeout", 5*time.Second)
	v.SetDefault("validation.min_age", 18)
}

// Load reads the configuration held by v. Flags must already be bound.
// configFile, when not empty, is read before environment variables apply.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// ACCOUNT_SERVICE_URL is the name earlier deployments used.
	if err := v.BindEnv("cascade.base_url", EnvPrefix+"_CASCADE_BASE_URL", "ACCOUNT_SERVICE_URL"); err != nil {
		return Config{}, fmt.Errorf("config: bind env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Users.Backend {
	case BackendMemory, BackendRedis, BackendSQL:
	default:
		errs = append(errs, fmt.Errorf("users.backend: unknown backend %q", c.Users.Backend))
	}
	switch c.Customers.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("customers.backend: unknown backend %q", c.Customers.Backend))
	}
	if c.Users.Backend == BackendSQL && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required by the sql backend"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Validation.MinAge < 0 {
		errs = append(errs, errors.New("validation.min_age: must not be negative"))
	}
	if c.Cascade.Timeout <= 0 {
		errs = append(errs, errors.New("cascade.timeout: must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
