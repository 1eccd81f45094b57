package generator

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// Phased is the multi-phase generator: a scan pass that surveys the task and
// available context, a plan pass that produces an implementation plan, and a
// generate pass that writes the code. The phases share one conversation so
// later phases build on earlier reasoning. On a retry the scan and plan from
// the first attempt still stand, so only the generate phase runs, with the
// error chain in its prompt.
type Phased struct {
	llm         llms.Model
	temperature float64
	logger      *zap.Logger
}

const (
	scanPrompt = `Survey the task below. Identify the control-system signals, data
sources, and library calls the implementation will need. Reply with a short
analysis, no code.`

	planPrompt = `Based on your analysis, produce a numbered implementation plan
for the Python code: inputs, processing steps, and how each required result
is computed. Reply with the plan only, no code.`

	generatePrompt = `Now write the complete Python code following your plan.
Remember the rules: a single fenced code block, all imports at the top, and
a 'results' dict holding the required values.`
)

// NewPhased constructs the multi-phase generator from pass-through
// configuration (same keys as the template generator).
func NewPhased(cfg map[string]any, logger *zap.Logger) (Generator, error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	return newPhasedWithModel(llm, cfgFloat(cfg, "temperature", 0.2), logger), nil
}

// newPhasedWithModel wires an explicit model, used by tests.
func newPhasedWithModel(llm llms.Model, temperature float64, logger *zap.Logger) *Phased {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Phased{llm: llm, temperature: temperature, logger: logger}
}

// GenerateCode implements the Generator contract.
func (p *Phased) GenerateCode(ctx context.Context, req *model.ExecutionRequest, chain *model.ErrorChain) (string, error) {
	task := buildTaskPrompt(req, chain)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, task),
	}

	phases := []string{"scan", "plan", "generate"}
	if chain.Len() > 0 {
		// Retry: the code was buggy, not the plan. Go straight to generate
		// with the error history already in the task prompt.
		phases = []string{"generate"}
	}

	var lastResponse string
	for _, phase := range phases {
		var instruction string
		switch phase {
		case "scan":
			instruction = scanPrompt
		case "plan":
			instruction = planPrompt
		case "generate":
			instruction = generatePrompt
		}
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, instruction))

		resp, err := p.llm.GenerateContent(ctx, messages, llms.WithTemperature(p.temperature))
		if err != nil {
			return "", newGenerationError(chain, fmt.Sprintf("%s phase failed", phase), err)
		}
		if len(resp.Choices) == 0 {
			return "", newGenerationError(chain, fmt.Sprintf("%s phase returned no choices", phase), nil)
		}

		lastResponse = resp.Choices[0].Content
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, lastResponse))

		p.logger.Debug("phase complete",
			zap.String("phase", phase),
			zap.Int("response_bytes", len(lastResponse)),
		)
	}

	code := extractCode(lastResponse)
	if code == "" {
		return "", newGenerationError(chain, "no code found in generate phase response", nil)
	}
	return code, nil
}
