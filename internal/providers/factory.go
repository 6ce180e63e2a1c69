package providers

import (
	"fmt"

	"github.com/gaddyh/tami2-ai-sub000/internal/config"
)

// New builds the configured chat provider.
func New(cfg *config.Config) (Provider, error) {
	retry := DefaultRetryConfig()
	retry.Timeout = cfg.LLMTimeout()
	if cfg.LLM.Retries >= 0 {
		retry.Attempts = cfg.LLM.Retries + 1
	}

	switch cfg.LLM.Provider {
	case "", "openai":
		if cfg.LLM.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: OPENAI_API_KEY is not set")
		}
		return NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.APIBase,
			WithOpenAIModel(cfg.LLM.Model),
			WithOpenAIRetry(retry),
			WithOpenAITemperature(cfg.LLM.Temperature),
		), nil
	case "anthropic":
		if cfg.LLM.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicProvider(cfg.LLM.AnthropicAPIKey,
			WithAnthropicModel(cfg.LLM.Model),
			WithAnthropicRetry(retry),
		), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.LLM.Provider)
	}
}

// NewTranscriber returns nil when speech-to-text is disabled.
func NewTranscriber(cfg *config.Config) Transcriber {
	if !cfg.STT.Enabled {
		return nil
	}
	key := cfg.STT.APIKey
	if key == "" {
		key = cfg.LLM.OpenAIAPIKey
	}
	return NewWhisperTranscriber(cfg.STT.APIBase, key, cfg.STT.Model, config.ParseDuration(cfg.STT.Timeout, defaultSTTTimeout))
}
