// Package pipeline sequences code generation, analysis, approval, and
// execution for one request, owning the retry budgets and the cross-attempt
// error chain. A run either completes with a terminal status or suspends at
// the approval gate, handing back a resume key.
package pipeline

import (
	"github.com/fyrsmithlabs/execd/internal/model"
)

// Status is the terminal disposition of a run.
type Status string

const (
	// StatusSucceeded means execution completed and produced the expected
	// results.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means a retry budget was exhausted; ErrorChain carries
	// the full diagnostics.
	StatusFailed Status = "failed"

	// StatusDenied means a reviewer rejected the pending code. A denial is
	// a legitimate outcome, not an error.
	StatusDenied Status = "denied"

	// StatusSuspended means the run is parked awaiting an approval
	// decision; ResumeKey identifies the checkpoint.
	StatusSuspended Status = "suspended"
)

// RunResult is the structured outcome of Execute or Resume. Callers always
// receive one of these rather than a raw failure.
type RunResult struct {
	Status Status `json:"status"`

	// Outcome is set for StatusSucceeded and, when execution ran at least
	// once, for StatusFailed.
	Outcome *model.ExecutionOutcome `json:"outcome,omitempty"`

	// ResumeKey is set only for StatusSuspended.
	ResumeKey string `json:"resume_key,omitempty"`

	// ErrorChain snapshots the accumulated attempt failures, oldest first.
	ErrorChain []string `json:"error_chain,omitempty"`
}
