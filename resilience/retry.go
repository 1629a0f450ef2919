package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/shoplist-ai/shoplist/telemetry"
)

// Config configures retry behavior for one provider. A zero Config is
// normalized to the defaults by Do.
type Config struct {
	// Name identifies the provider in logs and metrics.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff between attempts. Default: 60s.
	MaxDelay time.Duration

	// Multiplier grows the backoff per attempt. Default: 2.0.
	Multiplier float64

	// Limiter, when set, gates every attempt: the executor waits on it
	// before calling the operation, so rate limiting and retry compose
	// instead of duplicating each other.
	Limiter *RateLimiter

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Logger for retry events.
	Logger *slog.Logger
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		Logger:      slog.Default(),
	}
}

// ConfigFromEnv builds a provider's retry configuration from environment
// variables prefixed with the upper-case provider name:
//
//	{PROVIDER}_MAX_RETRIES (3), {PROVIDER}_BASE_DELAY (1.0 seconds),
//	{PROVIDER}_MAX_DELAY (60.0 seconds), {PROVIDER}_RETRY_MULTIPLIER (2.0),
//	{PROVIDER}_RPM_LIMIT (defaultRPM; 0 disables rate limiting).
func ConfigFromEnv(provider string, defaultRPM int) Config {
	cfg := DefaultConfig()
	cfg.Name = provider
	cfg.MaxAttempts = envInt(provider+"_MAX_RETRIES", cfg.MaxAttempts)
	cfg.BaseDelay = envSeconds(provider+"_BASE_DELAY", cfg.BaseDelay)
	cfg.MaxDelay = envSeconds(provider+"_MAX_DELAY", cfg.MaxDelay)
	cfg.Multiplier = envFloat(provider+"_RETRY_MULTIPLIER", cfg.Multiplier)

	rpm := envInt(provider+"_RPM_LIMIT", defaultRPM)
	if rpm > 0 {
		cfg.Limiter = NewRateLimiter(provider, rpm)
	}
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Do runs op under the policy: the limiter (if any) gates every attempt,
// retryable failures back off exponentially with jitter, and fatal failures
// propagate immediately. When attempts run out, the returned error wraps
// both ErrRetriesExhausted and the last failure.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.Limiter != nil {
			if err := cfg.Limiter.WaitIfNeeded(ctx); err != nil {
				return zero, err
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !Retryable(err) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		telemetry.RecordRetryAttempt(ctx, cfg.Name, ErrorKind(err))
		cfg.Logger.Warn("retrying after failure",
			"attempt", attempt, "max_attempts", cfg.MaxAttempts, "delay", delay, "error", err)

		if err := sleepCtx(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}

// backoffDelay computes the exponential backoff for an attempt, capped at
// MaxDelay, with up to 25% random jitter so concurrent callers retrying the
// same provider do not synchronize.
func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1)))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	if quarter := int64(delay / 4); quarter > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(quarter))
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
