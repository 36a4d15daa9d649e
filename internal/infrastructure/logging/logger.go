package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the root runtime logger. Its level can be changed while running.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config defines logger configuration
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
	// SampleFirst and SampleThereafter rate-limit identical entries per second.
	// Frame overruns and transitions repeat at loop speed. Zero disables.
	SampleFirst      int
	SampleThereafter int
}

// DefaultConfig returns the production configuration
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		OutputPaths:      []string{"stderr"},
		SampleFirst:      100,
		SampleThereafter: 100,
	}
}

// DevelopmentConfig returns a verbose, unsampled console configuration
func DevelopmentConfig() Config {
	return Config{
		Level:       "debug",
		Development: true,
		OutputPaths: []string{"stderr"},
	}
}

// New creates a logger from cfg
func New(cfg Config) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	atom := zap.NewAtomicLevelAt(lvl)
	zapCfg := zap.Config{
		Level:             atom,
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     productionEncoder(),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	if cfg.Development {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if cfg.SampleFirst > 0 {
		zapCfg.Sampling = &zap.SamplingConfig{
			Initial:    cfg.SampleFirst,
			Thereafter: cfg.SampleThereafter,
		}
	}

	base, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{Logger: base, level: atom}, nil
}

// NewDefault creates a production logger, falling back to Nop
func NewDefault() *Logger {
	l, err := New(DefaultConfig())
	if err != nil {
		return Nop()
	}
	return l
}

// NewDevelopment creates a development logger, falling back to Nop
func NewDevelopment() *Logger {
	l, err := New(DevelopmentConfig())
	if err != nil {
		return Nop()
	}
	return l
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Level returns the live level. It implements http.Handler: GET reports the
// level and PUT {"level":"debug"} changes it.
func (l *Logger) Level() zap.AtomicLevel {
	return l.level
}

// Component returns the named sub-logger a runtime component logs through
func (l *Logger) Component(name string) *zap.Logger {
	if l == nil || l.Logger == nil {
		return zap.NewNop()
	}
	return l.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Package tags an entry with a package identifier
func Package(id string) zap.Field {
	return zap.String("package", id)
}

// Instance tags an entry with an instance identifier
func Instance(id string) zap.Field {
	return zap.String("instance", id)
}

func productionEncoder() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}
