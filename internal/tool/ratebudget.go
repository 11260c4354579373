package tool

import (
	"context"
	"sync"
	"time"
)

// Budget is a per-tool token bucket rate limiter, grounded on the shape of
// lookatitude-beluga-ai's resilience.RateLimiter (RPM-based token bucket
// with lazy refill) — no ecosystem limiter is imported anywhere in the
// pack, so this is hand-rolled per DESIGN.md.
type Budget struct {
	mu         sync.Mutex
	rpm        int
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBudget builds a Budget allowing up to rpm calls per minute. rpm<=0
// means unlimited.
func NewBudget(rpm int) *Budget {
	b := &Budget{rpm: rpm, lastRefill: time.Now()}
	if rpm > 0 {
		b.maxTokens = float64(rpm)
		b.tokens = float64(rpm)
		b.refillRate = float64(rpm) / 60.0
	}
	return b
}

// Allow blocks until a call slot is available or ctx is done, consuming
// one token on success. Unlimited budgets always succeed immediately.
func (b *Budget) Allow(ctx context.Context) error {
	if b.rpm <= 0 {
		return nil
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.tryConsume() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Budget) tryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens = min(b.maxTokens, b.tokens+elapsed*b.refillRate)

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
