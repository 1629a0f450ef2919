package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shoplist-ai/shoplist/telemetry"
)

// RateLimiter bounds the request rate to a named external service to a
// requests-per-minute ceiling. It is a token bucket holding at most RPM
// tokens and refilling at RPM per minute, so a full minute's budget can be
// spent immediately and the next request waits for capacity.
//
// Each provider owns its own limiter; limiters only bound this process.
type RateLimiter struct {
	name   string
	rpm    int
	logger *slog.Logger

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a limiter for the named service. rpm <= 0 disables
// the limiter entirely; WaitIfNeeded then always returns immediately.
func NewRateLimiter(name string, rpm int) *RateLimiter {
	return &RateLimiter{
		name:       name,
		rpm:        rpm,
		logger:     slog.Default(),
		tokens:     float64(rpm),
		lastRefill: time.Now(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// RPM returns the configured requests-per-minute ceiling.
func (rl *RateLimiter) RPM() int { return rl.rpm }

// WaitIfNeeded suspends the caller until a request slot is available under
// the rolling budget, or until the context is done. With rpm <= 0 it is a
// no-op.
func (rl *RateLimiter) WaitIfNeeded(ctx context.Context) error {
	if rl == nil || rl.rpm <= 0 {
		return nil
	}

	for {
		rl.mu.Lock()
		rl.refillLocked()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		// Time until one whole token accrues at rpm/60 tokens per second.
		need := 1 - rl.tokens
		wait := time.Duration(need / (float64(rl.rpm) / 60) * float64(time.Second))
		rl.mu.Unlock()

		rl.logger.Debug("rate limit reached, waiting", "service", rl.name, "rpm", rl.rpm, "wait", wait)
		telemetry.RecordRateLimitWait(ctx, rl.name, wait)
		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	rl.lastRefill = now

	rl.tokens += elapsed.Seconds() * float64(rl.rpm) / 60
	if rl.tokens > float64(rl.rpm) {
		rl.tokens = float64(rl.rpm)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
