package resilience

import (
	"sync"
	"time"
)

type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker is a three-state circuit breaker. The OPEN to HALF_OPEN
// transition is lazy: it happens on the next Allow/State query after the
// recovery window elapses, there is no background timer.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	successCount     int
	halfOpenInFlight int
	lastFailureAt    time.Time
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
	timeNow          func() time.Time
}

type BreakerSnapshot struct {
	State         BreakerState `json:"state"`
	FailureCount  int          `json:"failure_count"`
	SuccessCount  int          `json:"success_count"`
	LastFailureAt time.Time    `json:"last_failure_at,omitempty"`
}

func NewBreaker(failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	if halfOpenMaxCalls <= 0 {
		halfOpenMaxCalls = 1
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
		timeNow:          time.Now,
	}
}

// Allow reports whether a call may proceed, reserving a probe slot when
// the breaker is HALF_OPEN.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.halfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		if b.successCount >= b.halfOpenMaxCalls {
			b.resetLocked()
		}
	default:
		// Decay instead of instant reset so a run of transient failures
		// interleaved with successes still opens the breaker.
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.timeNow()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.lastFailureAt = now
		b.successCount = 0
		b.halfOpenInFlight = 0
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.lastFailureAt = now
		}
	default:
		b.lastFailureAt = now
	}
}

// Reset forces CLOSED with all counters zeroed. Administrative override.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// State performs the lazy OPEN to HALF_OPEN check as a side effect.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return BreakerSnapshot{
		State:         b.state,
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		LastFailureAt: b.lastFailureAt,
	}
}

func (b *Breaker) maybeRecoverLocked() {
	if b.state != StateOpen {
		return
	}
	if b.timeNow().Sub(b.lastFailureAt) >= b.recoveryTimeout {
		b.state = StateHalfOpen
		b.successCount = 0
		b.halfOpenInFlight = 0
	}
}

func (b *Breaker) resetLocked() {
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
}
