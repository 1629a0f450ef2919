package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/shoplist-ai/shoplist/resilience"
)

// NewAzure builds a client for Azure OpenAI from the environment.
// AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT are required;
// AZURE_OPENAI_DEPLOYMENT_NAME and AZURE_OPENAI_API_VERSION override the
// defaults. Azure routes by deployment name in the URL and authenticates
// with an api-key header instead of a bearer token.
func NewAzure(logger *slog.Logger) (*Client, error) {
	apiKey := os.Getenv("AZURE_OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_API_KEY environment variable not set")
	}
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT environment variable not set")
	}

	deployment := envOr("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini")
	apiVersion := envOr("AZURE_OPENAI_API_VERSION", "2024-02-01")
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(endpoint, "/"), deployment, apiVersion)

	return NewClient(ClientConfig{
		Name:     "azure",
		Endpoint: url,
		Model:    deployment,
		AuthHeader: func(h http.Header) {
			h.Set("api-key", apiKey)
		},
		MaxTokens:   envIntOr("AZURE_OPENAI_MAX_TOKENS", 2000),
		Temperature: envFloatOr("AZURE_OPENAI_TEMPERATURE", 0.1),
		Retry:       resilience.ConfigFromEnv("AZURE", 120),
		Logger:      logger,
	}), nil
}
