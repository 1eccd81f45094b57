// Package checkpoint persists the minimal state of a suspended pipeline so
// an approval decision can resume it later, possibly from another process.
// A checkpoint is single-use: taking it for resumption consumes it, and a
// second take of the same key is rejected.
package checkpoint

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/execd/internal/analyzer"
	"github.com/fyrsmithlabs/execd/internal/model"
)

// Errors for resume operations.
var (
	// ErrNotFound means no checkpoint was ever issued under the key.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrConsumed means the checkpoint was already resumed once.
	ErrConsumed = errors.New("checkpoint already resumed")
)

// Checkpoint is the suspension state of one pipeline instance.
type Checkpoint struct {
	// Key identifies the suspended pipeline; handed to the caller as the
	// resume key.
	Key string `json:"key"`

	// Request is the originating request, restored verbatim on resume.
	Request model.ExecutionRequest `json:"request"`

	// Code is the generated code awaiting approval.
	Code string `json:"code"`

	// Chain holds the error chain entries accumulated before suspension.
	Chain []string `json:"chain,omitempty"`

	// Analysis is the pending analyzer result the gate acted on.
	Analysis *analyzer.Result `json:"analysis,omitempty"`

	// GenAttempts and ExecAttempts are the retry budgets consumed before
	// suspension, so a resumed pipeline keeps honoring the ceilings.
	GenAttempts  int `json:"gen_attempts"`
	ExecAttempts int `json:"exec_attempts"`

	// CreatedAt records when the pipeline suspended.
	CreatedAt time.Time `json:"created_at"`
}
