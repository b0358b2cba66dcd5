package ratelimiter

import (
	"math"
	"sync"
	"time"
)

// Config holds token bucket parameters
type Config struct {
	Capacity   float64
	RefillRate float64 // tokens per second
	Cooldown   time.Duration
}

// DefaultConfig allows 30 requests per minute with a 60s cooldown after an upstream 429
func DefaultConfig() Config {
	return Config{
		Capacity:   30,
		RefillRate: 0.5,
		Cooldown:   60 * time.Second,
	}
}

// TokenBucket gates calls to a single upstream. Refill is lazy and a cooldown
// set by HandleRateLimit overrides the refill math until it expires. Any
// positive balance admits a request, so the count may dip to just above -1.
type TokenBucket struct {
	mutex         sync.Mutex
	tokens        float64
	capacity      float64
	refillRate    float64
	cooldown      time.Duration
	lastRefill    time.Time
	cooldownUntil time.Time
	now           func() time.Time
}

// New creates a full TokenBucket
func New(cfg Config) *TokenBucket {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a TokenBucket reading time from now
func NewWithClock(cfg Config, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     cfg.Capacity,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		cooldown:   cfg.Cooldown,
		lastRefill: now(),
		now:        now,
	}
}

// available projects the token count at now without committing it.
// Must be called with the mutex held.
func (tb *TokenBucket) available(now time.Time) float64 {
	if now.Before(tb.cooldownUntil) {
		return 0
	}
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return tb.tokens
	}
	return math.Min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
}

// CanMakeRequest reports whether a request would be admitted right now
func (tb *TokenBucket) CanMakeRequest() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	return tb.available(tb.now()) > 0
}

// ConsumeToken takes one token if allowed and reports whether it did
func (tb *TokenBucket) ConsumeToken() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := tb.now()
	tokens := tb.available(now)
	if tokens <= 0 {
		return false
	}
	tb.tokens = tokens - 1
	tb.lastRefill = now
	return true
}

// HandleRateLimit is called when the upstream signals a rate limit. It
// empties the bucket and denies every request for the cooldown window.
func (tb *TokenBucket) HandleRateLimit() {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := tb.now()
	tb.tokens = 0
	tb.lastRefill = now
	tb.cooldownUntil = now.Add(tb.cooldown)
}

// WaitTime returns how long until the next request is allowed, 0 if now
func (tb *TokenBucket) WaitTime() time.Duration {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := tb.now()
	if now.Before(tb.cooldownUntil) {
		return tb.cooldownUntil.Sub(now)
	}

	tokens := tb.available(now)
	if tokens > 0 {
		return 0
	}
	if tb.refillRate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	// Whole milliseconds, one past the point where the balance reaches zero.
	ms := math.Floor(-tokens/tb.refillRate*1000) + 1
	return time.Duration(ms) * time.Millisecond
}

// Tokens returns the projected token count
func (tb *TokenBucket) Tokens() float64 {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	return tb.available(tb.now())
}
