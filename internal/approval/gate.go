// Package approval decides whether generated code needs human confirmation
// before execution. The gate combines the global approval mode, an optional
// per-capability override, and the analyzer's category flags. It never makes
// the approve/deny decision itself: REQUIRED_PENDING is a suspension point
// for the orchestrator, and the decision arrives later through resume.
package approval

import (
	"fmt"

	"github.com/fyrsmithlabs/execd/internal/analyzer"
)

// State is the gate's evaluation state for one pipeline pass.
type State string

const (
	StateNotEvaluated    State = "not_evaluated"
	StateNotRequired     State = "not_required"
	StateRequiredPending State = "required_pending"
	StateApproved        State = "approved"
	StateDenied          State = "denied"
)

// Mode is the global approval posture.
type Mode string

const (
	// ModeDisabled never requests approval.
	ModeDisabled Mode = "disabled"

	// ModeSelective requests approval when a trigger category matched, or
	// per the capability's override.
	ModeSelective Mode = "selective"

	// ModeAll requests approval for every piece of generated code.
	ModeAll Mode = "all"
)

// Per-capability override values. Any other value names a trigger category
// that requires approval when the analyzer matched it.
const (
	CapabilityDisabled = "disabled"
	CapabilityAllCode  = "all_code"
)

// ParseMode maps a configuration string to a Mode, failing closed on
// unrecognized tags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDisabled, ModeSelective, ModeAll:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown approval mode %q (want disabled, selective, or all)", s)
	}
}

// Decision is the human's answer to a pending approval, consumed exactly
// once by the resumed pipeline step.
type Decision struct {
	// Approved is true when execution may proceed.
	Approved bool `json:"approved"`

	// Payload optionally carries parameters modified during review, handed
	// to the capability context of the resumed execution.
	Payload map[string]any `json:"payload,omitempty"`
}

// Config configures the gate.
type Config struct {
	// GlobalMode is the daemon-wide posture.
	GlobalMode Mode `koanf:"global_mode"`

	// Capabilities overrides the posture per capability name. Values are
	// CapabilityDisabled, CapabilityAllCode, or a trigger category label.
	Capabilities map[string]string `koanf:"capabilities"`

	// Triggers are the analyzer categories that require approval under
	// ModeSelective when the capability has no override.
	Triggers []string `koanf:"triggers"`
}

// Gate evaluates whether execution needs human confirmation.
type Gate struct {
	cfg Config
}

// New creates a gate. The global mode must be a recognized tag.
func New(cfg Config) (*Gate, error) {
	if _, err := ParseMode(string(cfg.GlobalMode)); err != nil {
		return nil, err
	}
	return &Gate{cfg: cfg}, nil
}

// Evaluate decides NOT_REQUIRED or REQUIRED_PENDING for the given capability
// and analysis. It is pure: the same inputs always produce the same state.
func (g *Gate) Evaluate(capability string, analysis *analyzer.Result) State {
	switch g.cfg.GlobalMode {
	case ModeDisabled:
		return StateNotRequired
	case ModeAll:
		return StateRequiredPending
	}

	// Selective: the capability override wins over the global trigger set.
	if override, ok := g.cfg.Capabilities[capability]; ok {
		switch override {
		case CapabilityDisabled:
			return StateNotRequired
		case CapabilityAllCode:
			return StateRequiredPending
		default:
			// Override names a trigger category.
			if analysis.Has(override) {
				return StateRequiredPending
			}
			return StateNotRequired
		}
	}

	for _, trigger := range g.cfg.Triggers {
		if analysis.Has(trigger) {
			return StateRequiredPending
		}
	}
	return StateNotRequired
}
