package llm

import (
	"fmt"

	"github.com/bookleaf/assist/internal/config"
	"go.uber.org/zap"
)

// NewTextGenerator creates the appropriate TextGenerator based on the LLM config.
// Returns (nil, nil) for the "none" provider; callers then use rule-based
// arbitration and classification. A positive RateLimit wraps the client in a
// RateLimitedGenerator.
func NewTextGenerator(cfg config.LLMConfig, logger *zap.Logger) (TextGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var gen TextGenerator
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		gen = NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Logger: logger})
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		gen = NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Logger: logger})
	case config.ProviderOllama:
		gen = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout, Logger: logger})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	logger.Info("llm provider configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", gen.GetModel()),
		zap.Float64("rate_limit", cfg.RateLimit))

	if cfg.RateLimit > 0 {
		gen = NewRateLimitedGenerator(gen, cfg.RateLimit, cfg.Burst)
	}
	return gen, nil
}
