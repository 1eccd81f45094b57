package model

import "time"

// ExecutionOutcome captures the result of running generated code.
type ExecutionOutcome struct {
	// Success is true when the code ran to completion and the results
	// contract was satisfied.
	Success bool `json:"success"`

	// Results maps produced result names to their values. On success the
	// key set is a superset of the request's ExpectedResults keys.
	Results map[string]any `json:"results,omitempty"`

	// Stdout is the captured standard output of the run.
	Stdout string `json:"stdout,omitempty"`

	// ArtifactPath references a persisted artifact of the run (the executed
	// script and results file in the execution workspace), if any.
	ArtifactPath string `json:"artifact_path,omitempty"`

	// Error is the structured error description on failure: exception type,
	// message, and a truncated traceback. Empty on success.
	Error string `json:"error,omitempty"`

	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}

// MissingResults returns the expected result names absent from the outcome.
func (o *ExecutionOutcome) MissingResults(expected map[string]string) []string {
	var missing []string
	for name := range expected {
		if _, ok := o.Results[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
