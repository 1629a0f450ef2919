// Package credentials resolves AI provider credentials from a templated
// JSON file. The template can pull values from the environment or from
// files, so the credentials file itself never has to contain a secret:
//
//	{
//	  "openai": {"api_key": "{{ env "OPENAI_API_KEY" }}"},
//	  "github": {"token": "{{ file "/run/secrets/github-token" }}"}
//	}
//
// Additional secret sources can be registered as named template functions
// with WithProvider.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/template"
)

const (
	// maxInputSize is the maximum size of a credentials template file (1MB).
	maxInputSize = 1 << 20
	// maxOutputSize is the maximum size of rendered template output (1MB).
	maxOutputSize = 1 << 20
)

// Credentials holds the resolved per-provider credential values.
type Credentials struct {
	OpenAI *OpenAIAuth `json:"openai,omitempty"`
	Azure  *AzureAuth  `json:"azure,omitempty"`
	GitHub *GitHubAuth `json:"github,omitempty"`
	Ollama *OllamaAuth `json:"ollama,omitempty"`
}

// OpenAIAuth configures the OpenAI provider.
type OpenAIAuth struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// AzureAuth configures the Azure OpenAI provider.
type AzureAuth struct {
	APIKey     string `json:"api_key"`
	Endpoint   string `json:"endpoint"`
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
}

// GitHubAuth configures the GitHub Models provider.
type GitHubAuth struct {
	Token  string `json:"token"`
	Model  string `json:"model,omitempty"`
	APIURL string `json:"api_url,omitempty"`
}

// OllamaAuth configures a local Ollama instance.
type OllamaAuth struct {
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Apply exports the resolved values into the process environment, where the
// provider constructors pick them up. Empty values are skipped so existing
// environment variables survive.
func (c *Credentials) Apply() {
	set := func(key, value string) {
		if value != "" {
			os.Setenv(key, value)
		}
	}
	if c.OpenAI != nil {
		set("OPENAI_API_KEY", c.OpenAI.APIKey)
		set("OPENAI_BASE_URL", c.OpenAI.BaseURL)
		set("OPENAI_MODEL", c.OpenAI.Model)
	}
	if c.Azure != nil {
		set("AZURE_OPENAI_API_KEY", c.Azure.APIKey)
		set("AZURE_OPENAI_ENDPOINT", c.Azure.Endpoint)
		set("AZURE_OPENAI_DEPLOYMENT_NAME", c.Azure.Deployment)
		set("AZURE_OPENAI_API_VERSION", c.Azure.APIVersion)
	}
	if c.GitHub != nil {
		set("GITHUB_TOKEN", c.GitHub.Token)
		set("GITHUB_MODEL", c.GitHub.Model)
		set("GITHUB_API_URL", c.GitHub.APIURL)
	}
	if c.Ollama != nil {
		set("OLLAMA_BASE_URL", c.Ollama.BaseURL)
		set("OLLAMA_MODEL", c.Ollama.Model)
	}
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// Resolver executes a template file and parses the result into Credentials.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider registers a named secret provider as a template function.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a new credential resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile reads and resolves a credentials template file.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	return r.ResolveReader(ctx, f)
}

// ResolveReader resolves a credentials template from a reader.
func (r *Resolver) ResolveReader(ctx context.Context, reader io.Reader) (*Credentials, error) {
	limited := io.LimitReader(reader, maxInputSize+1)

	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}

	if len(data) > maxInputSize {
		return nil, fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxInputSize)
	}

	// Build template function map with memoization cache.
	cache := make(map[string]string)
	funcMap := r.buildFuncMap(ctx, cache)

	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(funcMap).
		Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}

	if buf.Len() > maxOutputSize {
		return nil, fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxOutputSize)
	}

	var creds Credentials
	if err := json.Unmarshal(buf.Bytes(), &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON after template execution: %w", err)
	}

	return &creds, nil
}

// buildFuncMap creates the template function map with built-in and provider functions.
func (r *Resolver) buildFuncMap(ctx context.Context, cache map[string]string) template.FuncMap {
	fm := template.FuncMap{
		"env": func(key string) (string, error) {
			val, ok := os.LookupEnv(key)
			if !ok {
				return "", fmt.Errorf("environment variable %q is not set", key)
			}
			return val, nil
		},
		"envDefault": func(key, fallback string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return fallback
		},
		"file": func(path string) (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading file %q: %w", path, err)
			}
			return strings.TrimSpace(string(data)), nil
		},
		"json": func(v string) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON encoding value: %w", err)
			}
			return string(b), nil
		},
	}

	// Register provider functions.
	for name, provider := range r.providers {
		fm[name] = r.makeProviderFunc(ctx, name, provider, cache)
	}

	return fm
}

// makeProviderFunc creates a memoized template function for a secret provider.
func (r *Resolver) makeProviderFunc(ctx context.Context, name string, provider SecretProvider, cache map[string]string) func(string) (string, error) {
	return func(ref string) (string, error) {
		cacheKey := name + ":" + ref
		if val, ok := cache[cacheKey]; ok {
			return val, nil
		}

		val, err := provider(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
		}

		cache[cacheKey] = val
		return val, nil
	}
}
