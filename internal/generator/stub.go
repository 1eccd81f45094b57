package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// Stub behaviors. The stub is a deterministic test double keyed by a
// configured behavior tag, so the rest of the pipeline can be exercised
// without any model in the loop.
const (
	// BehaviorSuccess returns fixed code that satisfies the results contract.
	BehaviorSuccess = "success"

	// BehaviorSyntaxError always fails generation, exhausting the ceiling.
	BehaviorSyntaxError = "syntax_error"

	// BehaviorRuntimeError returns code that raises at run time.
	BehaviorRuntimeError = "runtime_error"

	// BehaviorFixAfterError fails like runtime_error code on a fresh chain
	// and returns working code once the chain carries feedback.
	BehaviorFixAfterError = "fix_after_error"
)

// Stub is the deterministic generator used to test the pipeline.
type Stub struct {
	behavior string
	code     string
	logger   *zap.Logger
}

// NewStub constructs the stub from pass-through configuration:
//
//	behavior  one of the Behavior* tags (default "success")
//	code      optional fixed code overriding the canned snippet
func NewStub(cfg map[string]any, logger *zap.Logger) (Generator, error) {
	behavior := cfgString(cfg, "behavior", BehaviorSuccess)
	switch behavior {
	case BehaviorSuccess, BehaviorSyntaxError, BehaviorRuntimeError, BehaviorFixAfterError:
	default:
		return nil, fmt.Errorf("unknown stub behavior %q", behavior)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stub{
		behavior: behavior,
		code:     cfgString(cfg, "code", ""),
		logger:   logger,
	}, nil
}

// GenerateCode implements the Generator contract.
func (s *Stub) GenerateCode(_ context.Context, req *model.ExecutionRequest, chain *model.ErrorChain) (string, error) {
	switch s.behavior {
	case BehaviorSyntaxError:
		return "", newGenerationError(chain, "stub: generation produces invalid syntax", nil)

	case BehaviorRuntimeError:
		return s.fixedOr(raisingCode), nil

	case BehaviorFixAfterError:
		if chain.Len() == 0 {
			return s.fixedOr(raisingCode), nil
		}
		return s.fixedOr(successCode(req)), nil

	default:
		return s.fixedOr(successCode(req)), nil
	}
}

func (s *Stub) fixedOr(code string) string {
	if s.code != "" {
		return s.code
	}
	return code
}

const raisingCode = `results = {}
raise RuntimeError("stub: simulated runtime failure")
`

// successCode fabricates code whose results dict covers the request's
// expected keys, so outcomes satisfy the contract end to end.
func successCode(req *model.ExecutionRequest) string {
	code := "results = {}\n"
	for name := range req.ExpectedResults {
		if name == "total" {
			code += "results[\"total\"] = 2 + 2\n"
			continue
		}
		code += fmt.Sprintf("results[%q] = %q\n", name, "stub")
	}
	return code
}
