package acl

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a fire-and-forget record of one adapter call. Publishing
// never blocks the call path: subscribers with full buffers miss the
// event and the drop counter advances.
type Event struct {
	Adapter      string  `json:"adapter"`
	Outcome      string  `json:"outcome"`
	LatencyMS    float64 `json:"latency_ms"`
	FromCache    bool    `json:"from_cache"`
	FromFallback bool    `json:"from_fallback"`
	RetryCount   int     `json:"retry_count"`
	At           string  `json:"at"`
}

const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeCacheHit    = "cache_hit"
	OutcomeFallback    = "fallback"
	OutcomeRateLimited = "rate_limited"
	OutcomeCircuitOpen = "circuit_open"
)

type EventBus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	dropped atomic.Int64
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[chan Event]struct{}{}}
}

func (b *EventBus) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, exists := b.subs[ch]
	if exists {
		delete(b.subs, ch)
	}
	b.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (b *EventBus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.At == "" {
		evt.At = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events discarded due to subscriber backpressure.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
