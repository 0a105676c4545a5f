package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket is a RateLimiter that refills at a fixed rate and allows
// bursts up to the bucket capacity.
type TokenBucket struct {
	rate     float64
	capacity float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket refilling at rate tokens per second.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return &TokenBucket{
		rate:       rate,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

var _ RateLimiter = (*TokenBucket)(nil)
