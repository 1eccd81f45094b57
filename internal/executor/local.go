package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// runnerSource drives one local run: it executes the generated script in a
// fresh namespace, writes the results dict to results.json, and writes the
// traceback of any uncaught exception to error.txt. Exit code 3 marks a
// runtime failure of the script as opposed to a harness problem.
const runnerSource = `import json
import traceback

ns = {}
try:
    with open("script.py") as f:
        src = f.read()
    exec(compile(src, "script.py", "exec"), ns)
except BaseException:
    with open("error.txt", "w") as f:
        f.write(traceback.format_exc())
    raise SystemExit(3)

with open("results.json", "w") as f:
    json.dump(ns.get("results", {}), f, default=str)
`

const runtimeFailureExit = 3

// LocalConfig configures the local engine.
type LocalConfig struct {
	// PythonEnvPath is the root of the Python environment; the interpreter
	// is expected at <PythonEnvPath>/bin/python.
	PythonEnvPath string

	// WorkDir is the root under which per-request workspaces are created.
	WorkDir string

	// Timeout bounds each execution.
	Timeout time.Duration
}

// LocalEngine runs code directly in a configured Python environment. It is
// intended only for trusted code paths; untrusted code belongs in the
// container engine.
type LocalEngine struct {
	cfg    LocalConfig
	logger *zap.Logger
}

// NewLocalEngine creates a local engine.
func NewLocalEngine(cfg LocalConfig, logger *zap.Logger) (*LocalEngine, error) {
	if cfg.PythonEnvPath == "" {
		return nil, errors.New("python env path is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "execd")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalEngine{cfg: cfg, logger: logger}, nil
}

// Execute implements the Engine contract.
func (e *LocalEngine) Execute(ctx context.Context, code string, req *model.ExecutionRequest) (*model.ExecutionOutcome, error) {
	workspace, err := e.makeWorkspace(req)
	if err != nil {
		return nil, &ExecutionError{Kind: KindRuntime, Message: "failed to create workspace", Err: err}
	}

	if err := os.WriteFile(filepath.Join(workspace, "script.py"), []byte(code), 0600); err != nil {
		return nil, &ExecutionError{Kind: KindRuntime, Message: "failed to write script", Err: err}
	}
	if err := os.WriteFile(filepath.Join(workspace, "runner.py"), []byte(runnerSource), 0600); err != nil {
		return nil, &ExecutionError{Kind: KindRuntime, Message: "failed to write runner", Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	python := filepath.Join(e.cfg.PythonEnvPath, "bin", "python")
	cmd := exec.CommandContext(runCtx, python, "runner.py")
	cmd.Dir = workspace

	// Kill the whole process group on deadline. Script subprocesses inherit
	// the output pipes, and Run would otherwise block until every descendant
	// exits, long past the timeout. WaitDelay is the backstop for anything
	// that escaped the group.
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outcome := &model.ExecutionOutcome{
		Stdout:       stdout.String(),
		ArtifactPath: workspace,
		Duration:     duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &ExecutionError{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("ExecutionTimeout: execution exceeded %s", e.cfg.Timeout),
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == runtimeFailureExit {
			// The script raised; error.txt holds the traceback.
			tb, _ := os.ReadFile(filepath.Join(workspace, "error.txt"))
			ename, evalue := summarizeTraceback(string(tb))
			outcome.Error = formatRuntimeError(ename, evalue, string(tb))

			e.logger.Debug("local execution failed",
				zap.String("workspace", workspace),
				zap.String("error", ename),
			)
			return outcome, nil
		}
		return nil, &ExecutionError{
			Kind:    KindRuntime,
			Message: fmt.Sprintf("interpreter failed: %s", stderr.String()),
			Err:     runErr,
		}
	}

	results, err := e.readResults(workspace)
	if err != nil {
		return nil, &ExecutionError{Kind: KindRuntime, Message: "failed to read results", Err: err}
	}

	outcome.Success = true
	outcome.Results = results

	e.logger.Info("local execution complete",
		zap.String("workspace", workspace),
		zap.Duration("duration", duration),
		zap.Int("result_count", len(results)),
	)
	return outcome, nil
}

// makeWorkspace creates an isolated per-call directory. Each call gets its
// own suffix so repeat executions cannot observe one another.
func (e *LocalEngine) makeWorkspace(req *model.ExecutionRequest) (string, error) {
	folder := req.ExecutionFolderName
	if folder == "" {
		folder = "adhoc"
	}
	workspace := filepath.Join(e.cfg.WorkDir, folder, "run-"+uuid.New().String()[:8])
	if err := os.MkdirAll(workspace, 0700); err != nil {
		return "", err
	}
	return workspace, nil
}

func (e *LocalEngine) readResults(workspace string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(workspace, "results.json"))
	if err != nil {
		return nil, err
	}
	var results map[string]any
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	return results, nil
}

var _ Engine = (*LocalEngine)(nil)
