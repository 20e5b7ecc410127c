package resilience

import (
	"sync"
	"time"
)

// TokenBucket bounds the call rate of a single adapter instance. Refill
// is continuous (rate times elapsed wall clock), never stepped, and the
// token count never exceeds the burst cap. Acquire does not block.
type TokenBucket struct {
	mu           sync.Mutex
	ratePerSec   float64
	burst        float64
	tokens       float64
	lastRefillAt time.Time
	timeNow      func() time.Time
}

func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &TokenBucket{
		ratePerSec:   ratePerSec,
		burst:        float64(burst),
		tokens:       float64(burst),
		lastRefillAt: now,
		timeNow:      time.Now,
	}
}

// Acquire consumes one token if available. A false return is an
// immediate rejection; callers never queue on the bucket.
func (tb *TokenBucket) Acquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Available reports the current token count after refill.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return tb.tokens
}

func (tb *TokenBucket) refillLocked() {
	now := tb.timeNow()
	elapsed := now.Sub(tb.lastRefillAt).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.ratePerSec
		if tb.tokens > tb.burst {
			tb.tokens = tb.burst
		}
	}
	tb.lastRefillAt = now
}
