package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shoplist-ai/shoplist/resilience"
	"github.com/shoplist-ai/shoplist/telemetry"
)

// ClientConfig configures an OpenAI-compatible chat client.
type ClientConfig struct {
	// Name is the provider's short name ("openai", "azure", ...).
	Name string

	// Endpoint is the full chat-completions URL.
	Endpoint string

	// Model is the model identifier sent with each request.
	Model string

	// AuthHeader injects credentials into each request. Optional.
	AuthHeader func(http.Header)

	// MaxTokens and Temperature are the per-call defaults.
	MaxTokens   int
	Temperature float64

	// Retry is the resilience policy wrapped around every call.
	Retry resilience.Config

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client

	// Logger for request events.
	Logger *slog.Logger
}

// Client is an OpenAI-compatible chat-completions client. All concrete
// providers are Clients differing only in endpoint, credentials, and
// resilience policy.
type Client struct {
	cfg    ClientConfig
	hc     *http.Client
	logger *slog.Logger
}

// NewClient creates a chat client from an explicit configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	return &Client{cfg: cfg, hc: cfg.HTTPClient, logger: cfg.Logger}
}

// Name returns the provider's short name.
func (c *Client) Name() string { return c.cfg.Name }

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompleteChat sends the conversation through the resilience layer and
// returns the first choice's content.
func (c *Client) CompleteChat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error) {
	var co chatOptions
	for _, opt := range opts {
		opt(&co)
	}

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if co.maxTokens > 0 {
		req.MaxTokens = co.maxTokens
	}
	if co.temperature != nil {
		req.Temperature = *co.temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	requestID := uuid.NewString()
	c.logger.Debug("chat request",
		"provider", c.cfg.Name, "request_id", requestID,
		"model", c.cfg.Model, "messages", len(messages), "max_tokens", req.MaxTokens)

	start := time.Now()
	content, err := resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) (string, error) {
		return c.doRequest(ctx, body, requestID)
	})
	if err != nil {
		telemetry.RecordChatCall(ctx, c.cfg.Name, time.Since(start), "error")
		c.logger.Error("chat request failed",
			"provider", c.cfg.Name, "request_id", requestID, "error", err)
		return "", err
	}
	telemetry.RecordChatCall(ctx, c.cfg.Name, time.Since(start), "success")

	c.logger.Debug("chat response",
		"provider", c.cfg.Name, "request_id", requestID, "length", len(content))
	return content, nil
}

// doRequest performs one attempt. The request is rebuilt per attempt so a
// consumed body from a failed attempt is never reused.
func (c *Client) doRequest(ctx context.Context, body []byte, requestID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthHeader != nil {
		c.cfg.AuthHeader(httpReq.Header)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", &resilience.NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := readSnippet(resp.Body, 512)
		statusErr := fmt.Errorf("%s chat status %d: %s", c.cfg.Name, resp.StatusCode, snippet)
		c.logger.Warn("chat attempt failed",
			"provider", c.cfg.Name, "request_id", requestID, "status", resp.StatusCode)
		return "", resilience.ClassifyHTTPStatus(resp.StatusCode, statusErr)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.cfg.Name)
	}
	return out.Choices[0].Message.Content, nil
}

// readSnippet reads up to n bytes for error reporting.
func readSnippet(r io.Reader, n int64) string {
	data, _ := io.ReadAll(io.LimitReader(r, n))
	return string(data)
}
