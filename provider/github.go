package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shoplist-ai/shoplist/resilience"
)

// NewGitHub builds a client for the GitHub Models inference API from the
// environment. GITHUB_TOKEN is required; GITHUB_MODEL, GITHUB_API_URL, and
// GITHUB_MODEL_TIMEOUT override the defaults.
func NewGitHub(logger *slog.Logger) (*Client, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN environment variable not set")
	}

	apiURL := envOr("GITHUB_API_URL", "https://models.inference.ai.azure.com")
	timeout := time.Duration(envIntOr("GITHUB_MODEL_TIMEOUT", 30)) * time.Second

	return NewClient(ClientConfig{
		Name:     "github",
		Endpoint: strings.TrimSuffix(apiURL, "/") + "/chat/completions",
		Model:    envOr("GITHUB_MODEL", "gpt-4o-mini"),
		AuthHeader: func(h http.Header) {
			h.Set("Authorization", "Bearer "+token)
		},
		MaxTokens:   envIntOr("GITHUB_MAX_TOKENS", 2000),
		Temperature: envFloatOr("GITHUB_TEMPERATURE", 0.1),
		Retry:       resilience.ConfigFromEnv("GITHUB", 15),
		HTTPClient:  &http.Client{Timeout: timeout},
		Logger:      logger,
	}), nil
}
