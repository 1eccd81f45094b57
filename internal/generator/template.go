package generator

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/model"
)

// Template is the fast single-pass generator: one prompt assembled from a
// template, one model call, code extracted from the response.
type Template struct {
	llm         llms.Model
	temperature float64
	logger      *zap.Logger
}

// NewTemplate constructs the single-pass generator from pass-through
// configuration. See newLLM for the recognized provider keys; "temperature"
// is also honored (default 0.2).
func NewTemplate(cfg map[string]any, logger *zap.Logger) (Generator, error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	return newTemplateWithModel(llm, cfgFloat(cfg, "temperature", 0.2), logger), nil
}

// newTemplateWithModel wires an explicit model, used by tests.
func newTemplateWithModel(llm llms.Model, temperature float64, logger *zap.Logger) *Template {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Template{llm: llm, temperature: temperature, logger: logger}
}

// GenerateCode implements the Generator contract.
func (t *Template) GenerateCode(ctx context.Context, req *model.ExecutionRequest, chain *model.ErrorChain) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildTaskPrompt(req, chain)),
	}

	resp, err := t.llm.GenerateContent(ctx, messages, llms.WithTemperature(t.temperature))
	if err != nil {
		return "", newGenerationError(chain, "model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", newGenerationError(chain, "model returned no choices", nil)
	}

	code := extractCode(resp.Choices[0].Content)
	if code == "" {
		return "", newGenerationError(chain, "no code found in model response", nil)
	}

	t.logger.Debug("generated code",
		zap.Int("attempt", chain.Len()+1),
		zap.Int("code_bytes", len(code)),
	)
	return code, nil
}
