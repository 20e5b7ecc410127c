package acl

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"aegis/pkg/metrics"
	"aegis/pkg/resilience"
)

// Protocol supplies the three required hooks a concrete adapter must
// implement. The pipeline itself lives here and is implemented once.
type Protocol[Req, Resp any] interface {
	// Execute performs the actual external call. It must honor ctx
	// cancellation; the pipeline additionally enforces the per-attempt
	// deadline even when a hook ignores ctx.
	Execute(ctx context.Context, req Req) (Resp, error)
	// Validate rejects malformed responses. An invalid response is
	// treated identically to an execution failure.
	Validate(resp Resp) bool
	// CacheKey derives a stable key for the request.
	CacheKey(req Req) string
}

// Fallbacker is the optional fourth hook. A false return means no
// fallback is available for this request.
type Fallbacker[Req, Resp any] interface {
	Fallback(ctx context.Context, req Req) (Resp, bool)
}

// Closer is implemented by protocols holding external resources.
type Closer interface {
	Close() error
}

// HealthReporter lets a protocol contribute detail to health snapshots.
type HealthReporter interface {
	HealthDetails() map[string]string
}

var errInvalidResponse = errors.New("response failed validation")

// Adapter mediates every call to one external decision engine. All
// shared mutable state is owned by the instance; concurrent Call
// invocations on the same instance are safe.
type Adapter[Req, Resp any] struct {
	name    string
	cfg     Config
	proto   Protocol[Req, Resp]
	breaker *resilience.Breaker
	bucket  *resilience.TokenBucket
	cacheMu sync.RWMutex
	cache   store[Resp]
	reg     *metrics.Registry
	bus     *EventBus
	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds an adapter around a protocol. reg and bus may be nil; a
// nil reg gets a private registry, a nil bus disables event emission.
func New[Req, Resp any](name string, proto Protocol[Req, Resp], cfg Config, reg *metrics.Registry, bus *EventBus) *Adapter[Req, Resp] {
	cfg = cfg.withDefaults()
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Adapter[Req, Resp]{
		name:    name,
		cfg:     cfg,
		proto:   proto,
		breaker: resilience.NewBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout, cfg.HalfOpenMaxCalls),
		bucket:  resilience.NewTokenBucket(cfg.RatePerSecond, cfg.RateBurst),
		cache:   newMemoryStore[Resp](cfg.CacheTTL, cfg.CacheMaxEntries),
		reg:     reg,
		bus:     bus,
		timeNow: time.Now,
		sleep:   sleepCtx,
	}
}

// UseSharedCache swaps the adapter-local memory cache for the shared
// Redis backend when reachable. Safe to call while Calls are in flight;
// entries in the previous backend are not migrated.
func (a *Adapter[Req, Resp]) UseSharedCache(ctx context.Context, client *redis.Client) {
	backend := newCacheStore[Resp](ctx, client, a.name, a.cfg)
	a.cacheMu.Lock()
	a.cache = backend
	a.cacheMu.Unlock()
}

func (a *Adapter[Req, Resp]) cacheStore() store[Resp] {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	return a.cache
}

func (a *Adapter[Req, Resp]) Name() string   { return a.name }
func (a *Adapter[Req, Resp]) Config() Config { return a.cfg }

// Call runs the pipeline: rate limit, cache lookup, circuit check,
// timed execution with retry, validation, cache store, fallback on
// failure. Every error is captured in the envelope; Call never raises.
// LatencyMS covers the whole invocation including backoff sleeps.
func (a *Adapter[Req, Resp]) Call(ctx context.Context, req Req) Envelope[Resp] {
	started := a.timeNow()

	if !a.bucket.Acquire() {
		env := failure[Resp](&RateLimitError{Adapter: a.name}, 0, 0)
		return a.finish(started, env, metrics.CallOutcome{RateLimited: true})
	}

	var key string
	if a.cfg.CacheEnabled {
		key = a.proto.CacheKey(req)
		if value, ok := a.cacheStore().get(ctx, key); ok {
			env := cached(value, 0)
			return a.finish(started, env, metrics.CallOutcome{Success: true, FromCache: true})
		}
	}

	if !a.breaker.Allow() {
		if a.cfg.FallbackEnabled {
			if value, ok := a.fallbackFor(ctx, req); ok {
				env := fallback(value, 0, 0)
				return a.finish(started, env, metrics.CallOutcome{Success: true, FromFallback: true, CircuitOpen: true})
			}
		}
		env := failure[Resp](&CircuitOpenError{Adapter: a.name}, 0, 0)
		return a.finish(started, env, metrics.CallOutcome{CircuitOpen: true})
	}

	var lastErr error
	retries := 0
	for attempt := 0; ; attempt++ {
		resp, err := a.attempt(ctx, req, attempt)
		if err == nil && !a.proto.Validate(resp) {
			err = &ExecutionError{Adapter: a.name, Err: errInvalidResponse}
		}
		if err == nil {
			a.breaker.RecordSuccess()
			if a.cfg.CacheEnabled {
				a.cacheStore().set(ctx, key, resp)
			}
			env := success(resp, 0, retries)
			return a.finish(started, env, metrics.CallOutcome{Success: true, Retries: retries})
		}
		a.breaker.RecordFailure()
		lastErr = err
		if retries >= a.cfg.MaxRetries || !retryable(err) || ctx.Err() != nil {
			break
		}
		if serr := a.sleep(ctx, a.backoff(attempt)); serr != nil {
			break
		}
		retries++
	}

	if a.cfg.FallbackEnabled {
		if value, ok := a.fallbackFor(ctx, req); ok {
			env := fallback(value, 0, retries)
			return a.finish(started, env, metrics.CallOutcome{Success: true, FromFallback: true, Retries: retries})
		}
	}
	env := failure[Resp](lastErr, 0, retries)
	return a.finish(started, env, metrics.CallOutcome{Retries: retries})
}

// attempt runs one execution under the per-attempt deadline. The
// deadline holds even when the hook ignores its context.
func (a *Adapter[Req, Resp]) attempt(ctx context.Context, req Req, attempt int) (Resp, error) {
	var zero Resp
	attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	type outcome struct {
		resp Resp
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := a.proto.Execute(attemptCtx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return zero, &TimeoutError{Adapter: a.name, Attempt: attempt, Timeout: a.cfg.Timeout}
			}
			return zero, &ExecutionError{Adapter: a.name, Err: out.err}
		}
		return out.resp, nil
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &TimeoutError{Adapter: a.name, Attempt: attempt, Timeout: a.cfg.Timeout}
		}
		return zero, &ExecutionError{Adapter: a.name, Err: attemptCtx.Err()}
	}
}

func (a *Adapter[Req, Resp]) backoff(attempt int) time.Duration {
	delay := float64(a.cfg.RetryBaseDelay) * math.Pow(a.cfg.RetryExpBase, float64(attempt))
	if delay > float64(a.cfg.RetryMaxDelay) {
		delay = float64(a.cfg.RetryMaxDelay)
	}
	return time.Duration(delay)
}

func (a *Adapter[Req, Resp]) fallbackFor(ctx context.Context, req Req) (Resp, bool) {
	var zero Resp
	fb, ok := a.proto.(Fallbacker[Req, Resp])
	if !ok {
		return zero, false
	}
	return fb.Fallback(ctx, req)
}

func (a *Adapter[Req, Resp]) finish(started time.Time, env Envelope[Resp], outcome metrics.CallOutcome) Envelope[Resp] {
	elapsed := a.timeNow().Sub(started)
	env.LatencyMS = float64(elapsed.Microseconds()) / 1000.0
	a.reg.ObserveCall(a.name, outcome, elapsed)
	if a.bus != nil {
		a.bus.Publish(Event{
			Adapter:      a.name,
			Outcome:      outcomeLabel(outcome),
			LatencyMS:    env.LatencyMS,
			FromCache:    env.FromCache,
			FromFallback: env.FromFallback,
			RetryCount:   env.RetryCount,
		})
		a.reg.SetDroppedEvents(a.bus.Dropped())
	}
	return env
}

func outcomeLabel(outcome metrics.CallOutcome) string {
	switch {
	case outcome.RateLimited:
		return OutcomeRateLimited
	case outcome.CircuitOpen && !outcome.FromFallback:
		return OutcomeCircuitOpen
	case outcome.FromCache:
		return OutcomeCacheHit
	case outcome.FromFallback:
		return OutcomeFallback
	case outcome.Success:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

// Health reports the adapter's live state for aggregation.
type Health struct {
	Adapter      string                     `json:"adapter"`
	Breaker      resilience.BreakerSnapshot `json:"breaker"`
	CacheEntries int                        `json:"cache_entries"`
	RateTokens   float64                    `json:"rate_tokens"`
	Degraded     bool                       `json:"degraded"`
	Details      map[string]string          `json:"details,omitempty"`
}

func (a *Adapter[Req, Resp]) Health() Health {
	snap := a.breaker.Snapshot()
	h := Health{
		Adapter:      a.name,
		Breaker:      snap,
		CacheEntries: a.cacheStore().size(),
		RateTokens:   a.bucket.Available(),
		Degraded:     snap.State != resilience.StateClosed,
	}
	if reporter, ok := a.proto.(HealthReporter); ok {
		h.Details = reporter.HealthDetails()
		if h.Details["degraded"] == "true" {
			h.Degraded = true
		}
	}
	return h
}

// Stats returns this adapter's accumulated call counters.
func (a *Adapter[Req, Resp]) Stats() metrics.AdapterStat {
	return a.reg.StatFor(a.name)
}

// ResetBreaker forces the circuit CLOSED. Administrative override.
func (a *Adapter[Req, Resp]) ResetBreaker() { a.breaker.Reset() }

// ClearCache drops every cached response.
func (a *Adapter[Req, Resp]) ClearCache() { a.cacheStore().purge() }

// Close releases protocol-held resources, if any.
func (a *Adapter[Req, Resp]) Close() error {
	if closer, ok := a.proto.(Closer); ok {
		return closer.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
