package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/tavern/internal/config"
	"go.uber.org/zap"
)

// NewClient builds the generator for one agent role. The embedder is nil for
// providers without an embeddings API.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (LLMClient, EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL, cfg.MaxTokens)
		return c, c, nil

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.MaxTokens)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "claude":
		c := NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)
		return c, nil, nil

	case "ollama":
		// Ollama serves an OpenAI-compatible API under /v1
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		if logger != nil {
			logger.Info("initializing ollama via openai-compatible api",
				zap.String("base_url", baseURL),
				zap.String("model", cfg.Model))
		}

		// Ollama ignores the key but the client requires one
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}

		c := NewOpenAIClient(apiKey, cfg.Model, cfg.EmbeddingModel, baseURL, cfg.MaxTokens)
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
