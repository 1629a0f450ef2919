package provider

import (
	"log/slog"
	"strings"

	"github.com/shoplist-ai/shoplist/resilience"
)

// NewOllama builds a client for a local Ollama instance. Ollama exposes an
// OpenAI-compatible endpoint under /v1 and needs no credentials or rate
// limiting. OLLAMA_BASE_URL and OLLAMA_MODEL override the defaults.
func NewOllama(logger *slog.Logger) (*Client, error) {
	baseURL := envOr("OLLAMA_BASE_URL", "http://localhost:11434")

	return NewClient(ClientConfig{
		Name:     "ollama",
		Endpoint: strings.TrimSuffix(baseURL, "/") + "/v1/chat/completions",
		Model:    envOr("OLLAMA_MODEL", "llama3.1"),
		Retry:    resilience.ConfigFromEnv("OLLAMA", 0),
		Logger:   logger,
	}), nil
}
