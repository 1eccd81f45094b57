package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/execd/internal/logging"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix namespaces execd environment overrides.
const envPrefix = "EXECD_"

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (EXECD_SERVER_PORT, EXECD_EXECUTION_METHOD, ...)
//  2. YAML config file (default ~/.config/execd/config.yaml)
//  3. Hardcoded defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	EXECD_SERVER_PORT            -> server.port
//	EXECD_EXECUTION_METHOD       -> execution.method
//	EXECD_LOGGING_LEVEL          -> logging.level
//	EXECD_APPROVAL_GLOBAL_MODE   -> approval.global_mode
//
// The generator credential itself never lives in the file: generator configs
// carry an api_key_env name and the generator reads the variable at startup.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "execd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// check-then-read race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFile(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// EXECD_SERVER_PORT -> server.port; the section is everything up
		// to the first underscore, the rest keeps its underscores.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		section, field, found := strings.Cut(lower, "_")
		if !found {
			return lower
		}
		return section + "." + field
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// validateConfigFile rejects world-accessible or oversized config files.
// Generator settings may reference credentials, so the file must be private.
func validateConfigFile(info os.FileInfo) error {
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file has permissions %04o, want 0600", perm)
	}
	return nil
}

// applyDefaults fills unset values so a minimal file still validates.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8970
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	logDefaults := logging.DefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logDefaults.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logDefaults.Format
	}
	if cfg.Logging.RedactFields == nil {
		cfg.Logging.RedactFields = logDefaults.RedactFields
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "execd"
	}

	if cfg.Execution.Method == "" {
		cfg.Execution.Method = "container"
	}
	if cfg.Execution.TimeoutSeconds == 0 {
		cfg.Execution.TimeoutSeconds = 30
	}
	if cfg.Execution.MaxGenerationRetries == 0 {
		cfg.Execution.MaxGenerationRetries = 3
	}
	if cfg.Execution.MaxExecutionRetries == 0 {
		cfg.Execution.MaxExecutionRetries = 3
	}
	if cfg.Execution.Container.JupyterHost == "" {
		cfg.Execution.Container.JupyterHost = "localhost"
	}
	if cfg.Execution.Container.JupyterPort == 0 {
		cfg.Execution.Container.JupyterPort = 8888
	}

	if cfg.Generator.Name == "" {
		cfg.Generator.Name = "template"
	}

	if cfg.Approval.GlobalMode == "" {
		cfg.Approval.GlobalMode = "selective"
	}
	if len(cfg.Approval.Triggers) == 0 {
		cfg.Approval.Triggers = []string{"write"}
	}

	if cfg.Analysis.ControlSystem == "" && len(cfg.Analysis.Groups) == 0 {
		cfg.Analysis.ControlSystem = "epics"
	}

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "file"
	}
}
