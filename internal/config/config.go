package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Cache drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Cache    CacheConfig
	Worker   WorkerConfig
	Logging  LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:""`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// UpstreamConfig describes the origin the worker fronts
type UpstreamConfig struct {
	Origin    string        `envconfig:"UPSTREAM_ORIGIN" default:"http://localhost:3000"`
	Timeout   time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"10s"`
	UserAgent string        `envconfig:"USER_AGENT" default:"wthr-offline/1.0 (contact@wthr.lol)"`
}

// CacheConfig selects the cache storage backend
type CacheConfig struct {
	Driver string `envconfig:"CACHE_DRIVER" default:"sqlite"`
	// Path is the sqlite file or badger directory. Empty keeps the store in memory.
	Path string `envconfig:"CACHE_PATH" default:"wthr-offline.db"`
	Name string `envconfig:"CACHE_NAME" default:"weather-tracker-v1"`
}

// WorkerConfig holds lifecycle and sync settings
type WorkerConfig struct {
	SkipWaiting          bool          `envconfig:"SKIP_WAITING" default:"true"`
	SyncEndpoint         string        `envconfig:"SYNC_ENDPOINT" default:"/api/weather/sync"`
	PeriodicSyncInterval time.Duration `envconfig:"PERIODIC_SYNC_INTERVAL" default:"1h"`
	ProbeInterval        time.Duration `envconfig:"PROBE_INTERVAL" default:"30s"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case DriverMemory, DriverSQLite, DriverBadger:
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q", c.Cache.Driver)
	}
	if c.Cache.Name == "" {
		return errors.New("CACHE_NAME must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}
	if c.Worker.ProbeInterval <= 0 {
		return errors.New("PROBE_INTERVAL must be positive")
	}
	if c.Worker.PeriodicSyncInterval < 0 {
		return errors.New("PERIODIC_SYNC_INTERVAL must not be negative")
	}
	return nil
}
