package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agenthands/droneguard/internal/config"
	"github.com/agenthands/droneguard/internal/core/model"
)

// NewAnalyzer builds the analyzer selected by cfg, wrapped with the retry policy.
// A missing API key in sdk mode yields an analyzer that fails every call
// with KindNotConfigured, so uploads still work and the error shows per item.
func NewAnalyzer(ctx context.Context, cfg *config.Config) (Analyzer, error) {
	policy := RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialDelay:   cfg.Retry.InitialDelay.Duration,
		AttemptTimeout: cfg.Analysis.Timeout.Duration,
	}

	if strings.ToLower(cfg.Analysis.Mode) == "custom" {
		if cfg.Analysis.CustomEndpoint == "" {
			return notConfigured(providerCustom), nil
		}
		slog.Info("using custom analysis endpoint", "endpoint", cfg.Analysis.CustomEndpoint)
		c := NewCustomClient(cfg.Analysis.CustomEndpoint, cfg.Analysis.ResponsePath, cfg.Analysis.Timeout.Duration)
		return NewRetrying(c, policy), nil
	}

	provider := strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" && provider != "ollama" {
		slog.Warn("no API key configured, analysis will fail until one is set", "provider", provider)
		return notConfigured(provider), nil
	}

	var a Analyzer
	switch provider {
	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		a = c

	case "openai":
		c := NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
		c.maxTokens = cfg.LLM.MaxTokens
		a = c

	case "claude":
		c := NewClaudeClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
		c.maxTokens = cfg.LLM.MaxTokens
		a = c

	case "ollama":
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		slog.Info("initializing ollama via OpenAI-compatible API", "base_url", baseURL)

		// Ollama ignores the key but the client requires one.
		apiKey := cfg.LLM.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		c := NewOpenAIClient(apiKey, cfg.LLM.Model, baseURL)
		c.maxTokens = cfg.LLM.MaxTokens
		c.provider = "ollama"
		a = c

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}

	return NewRetrying(a, policy), nil
}

func notConfigured(provider string) Analyzer {
	return AnalyzerFunc(func(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
		return nil, NewError(KindNotConfigured, provider, "no API key or endpoint configured", nil)
	})
}
