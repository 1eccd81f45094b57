// Package executor runs generated code and captures structured outcomes.
// Two isolation modes exist: container (a Jupyter kernel gateway, isolated
// from the host) and local (a configured Python environment, for trusted
// code paths only). Both enforce a timeout and translate uncaught runtime
// failures into structured error strings; raw exceptions never cross the
// engine boundary.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// Engine executes code text and reports an outcome. Implementations must be
// idempotent: repeated calls with the same code share no engine-owned state
// beyond what the code writes into its own isolated workspace.
//
// A non-nil error marks an engine-level failure (infrastructure, timeout).
// Failures of the code itself come back as an outcome with Success=false
// and a structured Error string.
type Engine interface {
	Execute(ctx context.Context, code string, req *model.ExecutionRequest) (*model.ExecutionOutcome, error)
}

// Mode selects the isolation strategy.
type Mode string

const (
	ModeContainer Mode = "container"
	ModeLocal     Mode = "local"
)

// ParseMode maps a configuration string to a Mode, failing closed.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeContainer, ModeLocal:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown execution method %q (want container or local)", s)
	}
}

// Error kinds for execution failures.
const (
	KindRuntime = "runtime"
	KindTimeout = "timeout"
)

// ExecutionError is an engine-level failure (infrastructure or timeout)
// that prevented a clean outcome.
type ExecutionError struct {
	Kind    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("execution %s error: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

const (
	// resultsSentinel prefixes the JSON-encoded results dict on stdout in
	// container mode.
	resultsSentinel = "__EXECD_RESULTS__"

	// maxTracebackBytes truncates runaway tracebacks in error strings.
	maxTracebackBytes = 2000
)

// containerHarness appends the results serialization to the user code for
// kernel execution. The sentinel line is stripped from the reported stdout.
func containerHarness(code string) string {
	return code + "\n\nimport json as _execd_json\n" +
		"print(" + fmt.Sprintf("%q", resultsSentinel) +
		" + _execd_json.dumps(globals().get('results', {}), default=str))\n"
}

// splitSentinel separates user stdout from the sentinel results line.
// Returns the cleaned stdout and the parsed results (nil if absent).
func splitSentinel(stdout string) (string, map[string]any, error) {
	idx := strings.LastIndex(stdout, resultsSentinel)
	if idx < 0 {
		return stdout, nil, nil
	}

	payload := stdout[idx+len(resultsSentinel):]
	if nl := strings.IndexByte(payload, '\n'); nl >= 0 {
		payload = payload[:nl]
	}

	var results map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &results); err != nil {
		return stdout, nil, fmt.Errorf("malformed results payload: %w", err)
	}

	cleaned := stdout[:idx]
	cleaned = strings.TrimSuffix(cleaned, "\n")
	return cleaned, results, nil
}

// formatRuntimeError builds the structured error string recorded in the
// error chain: exception type, message, truncated traceback.
func formatRuntimeError(ename, evalue, traceback string) string {
	if len(traceback) > maxTracebackBytes {
		traceback = "...\n" + traceback[len(traceback)-maxTracebackBytes:]
	}
	header := ename
	if evalue != "" {
		header = ename + ": " + evalue
	}
	if traceback == "" {
		return header
	}
	return header + "\n" + traceback
}

// summarizeTraceback extracts the final "Type: message" line of a Python
// traceback, falling back to the full text.
func summarizeTraceback(tb string) (ename, evalue string) {
	lines := strings.Split(strings.TrimSpace(tb), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if name, value, found := strings.Cut(line, ": "); found && !strings.HasPrefix(line, "File ") {
			return name, value
		}
		return line, ""
	}
	return "Error", ""
}
