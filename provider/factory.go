package provider

import (
	"fmt"
	"log/slog"
)

// New returns a provider by name. FromEnv selects the name from the
// AI_PROVIDER environment variable, defaulting to ollama so the assistant
// works without any credentials configured.
func New(name string, logger *slog.Logger) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAI(logger)
	case "azure":
		return NewAzure(logger)
	case "github":
		return NewGitHub(logger)
	case "ollama":
		return NewOllama(logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// FromEnv builds the provider named by AI_PROVIDER.
func FromEnv(logger *slog.Logger) (Provider, error) {
	return New(envOr("AI_PROVIDER", "ollama"), logger)
}
