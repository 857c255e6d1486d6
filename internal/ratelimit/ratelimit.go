// Package ratelimit provides per-provider token buckets sized from the
// configured requests-per-minute (spec.md §6's RequestsPerMinute
// setting). main registers the LLM provider and the engine holds the
// Limiter, but no call path in this module waits on it; the §4.8
// bulk-ingest concurrency cap is computed by config.BulkConcurrency.
// Grounded on the teacher's TokenBucketRateLimiter
// (internal/integration/vault.go), which wraps golang.org/x/time/rate
// per named service; generalized here from "per SaaS connector" to "per
// provider" (embedding, llm).
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps one token bucket per registered provider name.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func New() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Register creates a bucket refilling at requestsPerMinute/60 tokens per
// second, with a burst equal to one minute's worth (or 1, whichever is
// larger) so a cold-started process isn't immediately throttled.
func (l *Limiter) Register(provider string, requestsPerMinute int) {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	burst := requestsPerMinute
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[provider] = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
}

// Allow reports whether a call may proceed immediately without blocking.
func (l *Limiter) Allow(provider string) bool {
	lim := l.get(provider)
	if lim == nil {
		return true
	}
	return lim.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	lim := l.get(provider)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %s: %w", provider, err)
	}
	return nil
}

// Status reports the current burst capacity and tokens available, for
// diagnostics.
type Status struct {
	Provider  string
	Limit     float64 // tokens per second
	Burst     int
	Available float64
}

func (l *Limiter) GetStatus(provider string) (Status, bool) {
	lim := l.get(provider)
	if lim == nil {
		return Status{}, false
	}
	return Status{
		Provider:  provider,
		Limit:     float64(lim.Limit()),
		Burst:     lim.Burst(),
		Available: lim.Tokens(),
	}, true
}

func (l *Limiter) get(provider string) *rate.Limiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiters[provider]
}
