// Package logging builds the shared zap logger for execd.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`

	// RedactFields are field names whose values are replaced before
	// emission. Credentials passed through generator configs land here.
	RedactFields []string `koanf:"redact_fields"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Level:        "info",
		Format:       "json",
		RedactFields: []string{"api_key", "token", "authorization"},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("invalid log format %q (want json or console)", c.Format)
	}
	return nil
}

// NewLogger creates a logger from config.
func NewLogger(cfg Config) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := zapcore.ParseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var core zapcore.Core = zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	if len(cfg.RedactFields) > 0 {
		core = newRedactCore(core, cfg.RedactFields)
	}

	return zap.New(core, zap.AddCaller()), nil
}
