package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/shoplist-ai/shoplist/resilience"
)

// NewOpenAI builds a client for the OpenAI API from the environment.
// OPENAI_API_KEY is required; OPENAI_MODEL, OPENAI_MAX_TOKENS, and
// OPENAI_TEMPERATURE override the defaults.
func NewOpenAI(logger *slog.Logger) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	return NewClient(ClientConfig{
		Name:     "openai",
		Endpoint: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1") + "/chat/completions",
		Model:    envOr("OPENAI_MODEL", "gpt-4o-mini"),
		AuthHeader: func(h http.Header) {
			h.Set("Authorization", "Bearer "+apiKey)
		},
		MaxTokens:   envIntOr("OPENAI_MAX_TOKENS", 2000),
		Temperature: envFloatOr("OPENAI_TEMPERATURE", 0.1),
		Retry:       resilience.ConfigFromEnv("OPENAI", 60),
		Logger:      logger,
	}), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
