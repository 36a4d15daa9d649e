package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig
	Runtime   RuntimeConfig
	Storage   StorageConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds admin HTTP server configuration.
type ServerConfig struct {
	Port    string `envconfig:"PORT" default:"8000"`
	Host    string `envconfig:"HOST" default:"127.0.0.1"`
	Enabled bool   `envconfig:"APPRT_SERVER_ENABLED" default:"true"`
}

// RuntimeConfig holds lifecycle and loop configuration.
type RuntimeConfig struct {
	HomePackage   string        `envconfig:"APPRT_HOME_PACKAGE"`
	FrameInterval time.Duration `envconfig:"APPRT_FRAME_INTERVAL" default:"33ms"`
	DrainBudget   int           `envconfig:"APPRT_DRAIN_BUDGET" default:"16"`
	DrainTime     time.Duration `envconfig:"APPRT_DRAIN_TIME" default:"8ms"`
	TaskWorkers   int           `envconfig:"APPRT_TASK_WORKERS" default:"4"`
	DebugLeaks    bool          `envconfig:"APPRT_DEBUG_LEAKS" default:"false"`
	CrashLimit    int           `envconfig:"APPRT_CRASH_LIMIT" default:"3"`
	CrashWindow   time.Duration `envconfig:"APPRT_CRASH_WINDOW" default:"1m"`
	CrashCooldown time.Duration `envconfig:"APPRT_CRASH_COOLDOWN" default:"30s"`
	WatchApps     bool          `envconfig:"APPRT_WATCH_APPS" default:"false"`
	MemoryFloor   uint64        `envconfig:"APPRT_MEMORY_FLOOR" default:"0"`
	PressureEvery time.Duration `envconfig:"APPRT_PRESSURE_EVERY" default:"1s"`
	ScriptTimeout time.Duration `envconfig:"APPRT_SCRIPT_TIMEOUT" default:"250ms"`
}

// StorageConfig holds package storage configuration.
type StorageConfig struct {
	Root             string   `envconfig:"APPRT_ROOT" default:"./appdata"`
	ReservedPrefixes []string `envconfig:"APPRT_RESERVED_PREFIXES" default:"com.micropythonos."`
	MinFreeBytes     uint64   `envconfig:"APPRT_MIN_FREE_BYTES" default:"1048576"`
	MaxBundleBytes   int64    `envconfig:"APPRT_MAX_BUNDLE_BYTES" default:"67108864"`
	CatalogURL       string   `envconfig:"APPRT_CATALOG_URL"`
	SeedDir          string   `envconfig:"APPRT_SEED_DIR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("invalid config: storage root is empty")
	}
	if c.Runtime.FrameInterval <= 0 {
		return fmt.Errorf("invalid config: frame interval must be positive")
	}
	if c.Runtime.DrainBudget <= 0 {
		return fmt.Errorf("invalid config: drain budget must be positive")
	}
	if c.Runtime.TaskWorkers <= 0 {
		return fmt.Errorf("invalid config: task workers must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    "8000",
			Host:    "127.0.0.1",
			Enabled: true,
		},
		Runtime: RuntimeConfig{
			FrameInterval: 33 * time.Millisecond,
			DrainBudget:   16,
			DrainTime:     8 * time.Millisecond,
			TaskWorkers:   4,
			CrashLimit:    3,
			CrashWindow:   time.Minute,
			CrashCooldown: 30 * time.Second,
			PressureEvery: time.Second,
			ScriptTimeout: 250 * time.Millisecond,
		},
		Storage: StorageConfig{
			Root:             "./appdata",
			ReservedPrefixes: []string{"com.micropythonos."},
			MinFreeBytes:     1 << 20,
			MaxBundleBytes:   64 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
