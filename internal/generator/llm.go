package generator

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// newLLM builds a langchaingo model client from a generator's pass-through
// configuration. Supported keys:
//
//	provider     "openai" (default, also serves OpenAI-compatible proxies)
//	             or "anthropic"
//	model        model identifier
//	base_url     override endpoint (openai provider only)
//	api_key      literal key; api_key_env names an environment variable
func newLLM(cfg map[string]any) (llms.Model, error) {
	provider := cfgString(cfg, "provider", "openai")
	modelName := cfgString(cfg, "model", "")
	apiKey := cfgString(cfg, "api_key", "")
	if env := cfgString(cfg, "api_key_env", ""); apiKey == "" && env != "" {
		apiKey = os.Getenv(env)
	}

	switch provider {
	case "anthropic":
		opts := []anthropic.Option{}
		if apiKey != "" {
			opts = append(opts, anthropic.WithToken(apiKey))
		}
		if modelName != "" {
			opts = append(opts, anthropic.WithModel(modelName))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
		return llm, nil

	case "openai":
		opts := []openai.Option{}
		if apiKey != "" {
			opts = append(opts, openai.WithToken(apiKey))
		}
		if modelName != "" {
			opts = append(opts, openai.WithModel(modelName))
		}
		if baseURL := cfgString(cfg, "base_url", ""); baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		return llm, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q (want openai or anthropic)", provider)
	}
}

// cfgString reads a string value from pass-through configuration.
func cfgString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// cfgFloat reads a float value, tolerating the int decoding koanf and YAML
// parsers produce for whole numbers.
func cfgFloat(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
