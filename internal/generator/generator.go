// Package generator defines the code generation contract and its
// interchangeable implementations. Implementations are polymorphic over a
// single capability and are resolved by name through a Registry constructed
// at process start; nothing here depends on a shared base type.
package generator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// Generator produces executable code text for a request. The error chain
// carries failure descriptions from previous attempts, oldest first, and
// must never be mutated by an implementation.
type Generator interface {
	// GenerateCode returns syntactically plausible executable code as text.
	// Internal failures are reported as a *GenerationError.
	GenerateCode(ctx context.Context, req *model.ExecutionRequest, chain *model.ErrorChain) (string, error)
}

// GenerationError reports a failed generation attempt. It carries the
// attempt number and a snapshot of the chain the generator was given, for
// diagnostics only.
type GenerationError struct {
	// Attempt is the 1-based attempt number (len(chain)+1 at call time).
	Attempt int

	// Chain is a snapshot of the error chain handed to the generator.
	Chain []string

	// Message describes the failure.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation attempt %d failed: %s: %v", e.Attempt, e.Message, e.Err)
	}
	return fmt.Sprintf("generation attempt %d failed: %s", e.Attempt, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// newGenerationError captures the attempt number from the chain length.
func newGenerationError(chain *model.ErrorChain, msg string, err error) *GenerationError {
	return &GenerationError{
		Attempt: chain.Len() + 1,
		Chain:   chain.Entries(),
		Message: msg,
		Err:     err,
	}
}
