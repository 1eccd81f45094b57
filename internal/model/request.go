// Package model defines the value objects exchanged between the generation,
// analysis, approval, and execution stages of the pipeline. Requests are
// owned by the caller and treated as read-only by every stage.
package model

import (
	"errors"
	"fmt"
	"regexp"
)

// Errors for request validation.
var (
	ErrEmptyObjective = errors.New("task objective is required")
	ErrInvalidFolder  = errors.New("invalid execution folder name: must be alphanumeric with hyphens/underscores")
)

// folderPattern validates execution folder names for filesystem safety.
var folderPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ExecutionRequest describes one unit of work submitted to the pipeline.
// It is immutable once created: stages read it, none of them mutate it.
type ExecutionRequest struct {
	// UserQuery is the raw query as entered by the user.
	UserQuery string `json:"user_query"`

	// TaskObjective is the distilled objective the generated code must meet.
	TaskObjective string `json:"task_objective"`

	// CapabilityPrompts are ordered instruction strings contributed by the
	// invoking capability, included verbatim in generation prompts.
	CapabilityPrompts []string `json:"capability_prompts,omitempty"`

	// ExpectedResults maps result names to a declared type/shape description.
	// A successful outcome must produce at least these keys.
	ExpectedResults map[string]string `json:"expected_results,omitempty"`

	// ExecutionFolderName isolates artifacts of this request from others.
	ExecutionFolderName string `json:"execution_folder_name"`

	// CapabilityContext carries prior-context values. The pipeline never
	// interprets these; they are passed through to the generator.
	CapabilityContext map[string]any `json:"capability_context,omitempty"`

	// Capability names the invoking capability for per-capability approval
	// overrides (e.g. "epics_writes").
	Capability string `json:"capability,omitempty"`
}

// Validate checks that the request is well-formed.
func (r *ExecutionRequest) Validate() error {
	if r.TaskObjective == "" {
		return ErrEmptyObjective
	}
	if r.ExecutionFolderName != "" && !folderPattern.MatchString(r.ExecutionFolderName) {
		return fmt.Errorf("%w: %q", ErrInvalidFolder, r.ExecutionFolderName)
	}
	return nil
}
