// Package config provides configuration loading for execd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. The daemon fails fast on any invalid value rather than running
// with a partially understood policy.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/execd/internal/analyzer"
	"github.com/fyrsmithlabs/execd/internal/approval"
	"github.com/fyrsmithlabs/execd/internal/executor"
	"github.com/fyrsmithlabs/execd/internal/logging"
)

// Config holds the complete execd configuration.
type Config struct {
	Server        ServerConfig          `koanf:"server"`
	Logging       logging.Config        `koanf:"logging"`
	Observability ObservabilityConfig   `koanf:"observability"`
	Execution     ExecutionConfig       `koanf:"execution"`
	Generator     GeneratorConfig       `koanf:"generator"`
	Approval      approval.Config       `koanf:"approval"`
	Analysis      AnalysisConfig        `koanf:"analysis"`
	Modes         map[string]ModePreset `koanf:"modes"`
	Checkpoint    CheckpointConfig      `koanf:"checkpoint"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// ExecutionConfig holds the retry budgets and engine selection.
type ExecutionConfig struct {
	// Method is the isolation strategy: "container" or "local".
	Method string `koanf:"method"`

	// Mode optionally names a preset from Config.Modes whose posture is
	// overlaid on the approval configuration.
	Mode string `koanf:"mode"`

	// TimeoutSeconds bounds a single code execution.
	TimeoutSeconds int `koanf:"timeout_seconds"`

	// MaxGenerationRetries bounds generation attempts per run.
	MaxGenerationRetries int `koanf:"max_generation_retries"`

	// MaxExecutionRetries bounds execution attempts per run. Every retry
	// regenerates code with the accumulated error chain.
	MaxExecutionRetries int `koanf:"max_execution_retries"`

	Container ContainerConfig `koanf:"container"`
	Local     LocalConfig     `koanf:"local"`
}

// ContainerConfig holds the Jupyter kernel gateway settings.
type ContainerConfig struct {
	JupyterHost string `koanf:"jupyter_host"`
	JupyterPort int    `koanf:"jupyter_port"`
	MaxKernels  int    `koanf:"max_kernels"`
	KernelName  string `koanf:"kernel_name"`
}

// LocalConfig holds the trusted local interpreter settings.
type LocalConfig struct {
	PythonEnvPath string `koanf:"python_env_path"`
	WorkDir       string `koanf:"work_dir"`
}

// GeneratorConfig selects and configures a code generator. Generators holds
// per-generator settings (provider, model, api_key_env, temperature, ...)
// passed through to the generator factory uninterpreted.
type GeneratorConfig struct {
	Name       string                    `koanf:"name"`
	Generators map[string]map[string]any `koanf:"generators"`
}

// AnalysisConfig selects the pattern set used by the security analyzer.
type AnalysisConfig struct {
	// ControlSystem names the built-in pattern set ("epics", "tango").
	ControlSystem string `koanf:"control_system"`

	// Groups adds or overrides pattern groups for the selected control
	// system. A group with a category already present replaces it.
	Groups []analyzer.PatternGroup `koanf:"groups"`
}

// ModePreset is a named operating posture. Presets are sugar over the
// approval configuration: a preset requiring approval raises the global
// mode to "all", and one that forbids unattended writes adds the write
// category to the trigger set.
type ModePreset struct {
	AllowsWrites     bool `koanf:"allows_writes"`
	RequiresApproval bool `koanf:"requires_approval"`
}

// CheckpointConfig holds suspension checkpoint storage settings.
type CheckpointConfig struct {
	// Backend is "file" or "memory".
	Backend string `koanf:"backend"`

	// Dir is the file backend root (default ~/.config/execd/checkpoints).
	Dir string `koanf:"dir"`
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if _, err := executor.ParseMode(c.Execution.Method); err != nil {
		return fmt.Errorf("execution.method: %w", err)
	}
	if c.Execution.TimeoutSeconds <= 0 {
		return fmt.Errorf("execution.timeout_seconds must be positive, got %d", c.Execution.TimeoutSeconds)
	}
	if c.Execution.MaxGenerationRetries <= 0 {
		return fmt.Errorf("execution.max_generation_retries must be positive, got %d", c.Execution.MaxGenerationRetries)
	}
	if c.Execution.MaxExecutionRetries <= 0 {
		return fmt.Errorf("execution.max_execution_retries must be positive, got %d", c.Execution.MaxExecutionRetries)
	}
	if c.Execution.Method == string(executor.ModeContainer) {
		if c.Execution.Container.JupyterHost == "" {
			return fmt.Errorf("execution.container.jupyter_host is required for container method")
		}
		if c.Execution.Container.JupyterPort <= 0 {
			return fmt.Errorf("execution.container.jupyter_port is required for container method")
		}
	}
	if c.Execution.Method == string(executor.ModeLocal) && c.Execution.Local.PythonEnvPath == "" {
		return fmt.Errorf("execution.local.python_env_path is required for local method")
	}

	if c.Generator.Name == "" {
		return fmt.Errorf("generator.name is required")
	}

	if c.Execution.Mode != "" {
		if _, ok := c.Modes[c.Execution.Mode]; !ok {
			return fmt.Errorf("execution.mode %q is not defined under modes", c.Execution.Mode)
		}
	}

	if _, err := approval.ParseMode(string(c.Approval.GlobalMode)); err != nil {
		return fmt.Errorf("approval.global_mode: %w", err)
	}

	// Compiling proves every configured pattern is a valid regex.
	groups, err := c.PatternGroups()
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	if _, err := analyzer.New(groups); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}

	switch c.Checkpoint.Backend {
	case "file", "memory":
	default:
		return fmt.Errorf("checkpoint.backend %q unknown (want file or memory)", c.Checkpoint.Backend)
	}

	return nil
}

// ApprovalConfig returns the approval configuration with the active mode
// preset overlaid, which is what the gate should actually run with.
func (c *Config) ApprovalConfig() approval.Config {
	cfg := c.Approval

	preset, ok := c.Modes[c.Execution.Mode]
	if c.Execution.Mode == "" || !ok {
		return cfg
	}

	if preset.RequiresApproval {
		cfg.GlobalMode = approval.ModeAll
	}
	if !preset.AllowsWrites {
		cfg.Triggers = append([]string{analyzer.CategoryWrite}, cfg.Triggers...)
	}
	return cfg
}

// PatternGroups resolves the analyzer pattern set: the built-in groups for
// the configured control system, with configured groups layered on top.
func (c *Config) PatternGroups() ([]analyzer.PatternGroup, error) {
	builtin := analyzer.DefaultGroups()
	base, ok := builtin[c.Analysis.ControlSystem]
	if !ok && c.Analysis.ControlSystem != "" {
		return nil, fmt.Errorf("unknown control system %q", c.Analysis.ControlSystem)
	}

	merged := make([]analyzer.PatternGroup, 0, len(base)+len(c.Analysis.Groups))
	overridden := make(map[string]bool, len(c.Analysis.Groups))
	for _, g := range c.Analysis.Groups {
		overridden[g.Category] = true
	}
	for _, g := range base {
		if !overridden[g.Category] {
			merged = append(merged, g)
		}
	}
	merged = append(merged, c.Analysis.Groups...)

	if len(merged) == 0 {
		return nil, fmt.Errorf("no pattern groups configured")
	}
	return merged, nil
}
