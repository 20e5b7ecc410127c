package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryObserveAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.ObserveCall("solver", CallOutcome{Success: true, Retries: 1}, 15*time.Millisecond)
	r.ObserveCall("solver", CallOutcome{}, 35*time.Millisecond)
	r.ObserveCall("solver", CallOutcome{Success: true, FromCache: true}, time.Millisecond)
	r.SetGauge("adapters_registered", 2)
	r.SetDroppedEvents(4)

	snap := r.Snapshot()
	stat, ok := snap.Adapters["solver"]
	if !ok {
		t.Fatal("missing adapter stat")
	}
	if stat.Calls != 3 {
		t.Fatalf("expected calls=3 got=%d", stat.Calls)
	}
	if stat.Successes != 2 || stat.Failures != 1 {
		t.Fatalf("expected 2 successes / 1 failure, got %d/%d", stat.Successes, stat.Failures)
	}
	if stat.CacheHits != 1 {
		t.Fatalf("expected cache_hits=1 got=%d", stat.CacheHits)
	}
	if stat.Retries != 1 {
		t.Fatalf("expected retries=1 got=%d", stat.Retries)
	}
	if stat.MaxMillis != 35 {
		t.Fatalf("expected max_millis=35 got=%d", stat.MaxMillis)
	}
	if stat.AverageMillis <= 0 {
		t.Fatalf("expected positive average, got %f", stat.AverageMillis)
	}
	if snap.Gauges["adapters_registered"] != 2 {
		t.Fatalf("expected gauge=2 got=%v", snap.Gauges["adapters_registered"])
	}
	if snap.DroppedEvents != 4 {
		t.Fatalf("expected dropped=4 got=%d", snap.DroppedEvents)
	}
}

func TestObserveCallOutcomePrecedence(t *testing.T) {
	r := NewRegistry()
	r.ObserveCall("policy", CallOutcome{RateLimited: true}, time.Millisecond)
	r.ObserveCall("policy", CallOutcome{CircuitOpen: true}, time.Millisecond)
	r.ObserveCall("policy", CallOutcome{CircuitOpen: true, FromFallback: true, Success: true}, time.Millisecond)
	r.ObserveCall("policy", CallOutcome{FromFallback: true, Success: true}, time.Millisecond)

	stat := r.StatFor("policy")
	if stat.RateLimited != 1 {
		t.Fatalf("rate_limited = %d", stat.RateLimited)
	}
	// One hard rejection plus one fallback that was caused by an open circuit.
	if stat.CircuitRejections != 2 {
		t.Fatalf("circuit_rejections = %d", stat.CircuitRejections)
	}
	if stat.Fallbacks != 2 {
		t.Fatalf("fallbacks = %d", stat.Fallbacks)
	}
	if stat.Failures != 2 || stat.Successes != 2 {
		t.Fatalf("failures=%d successes=%d", stat.Failures, stat.Successes)
	}
}

func TestStatForUnknownAdapter(t *testing.T) {
	r := NewRegistry()
	if stat := r.StatFor("nope"); stat.Calls != 0 {
		t.Fatalf("expected zero stat, got %+v", stat)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys got=%d", len(keys))
	}
	if keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected order: %#v", keys)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.ObserveCall("solver", CallOutcome{Success: true}, 12*time.Millisecond)
	r.ObserveCall("solver", CallOutcome{}, 20*time.Millisecond)
	r.SetGauge("adapters_registered", 7)
	r.SetDroppedEvents(1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics/prom", nil)
	r.PrometheusHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "aegis_acl_calls_total{adapter=\"solver\"} 2") {
		t.Fatalf("missing calls metric: %s", body)
	}
	if !strings.Contains(body, "aegis_acl_failures_total{adapter=\"solver\"} 1") {
		t.Fatalf("missing failures metric: %s", body)
	}
	if !strings.Contains(body, "aegis_acl_gauge{name=\"adapters_registered\"} 7.000") {
		t.Fatalf("missing gauge metric: %s", body)
	}
	if !strings.Contains(body, "aegis_acl_dropped_events_total 1") {
		t.Fatalf("missing dropped events metric: %s", body)
	}
	if !strings.Contains(body, "aegis_acl_latency_seconds_count{adapter=\"solver\"} 2") {
		t.Fatalf("missing histogram count: %s", body)
	}
}

func TestJSONHandler(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("", 5)
	r.ObserveCall("policy", CallOutcome{Success: true}, 5*time.Millisecond)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"generated_at\"") {
		t.Fatalf("expected generated timestamp in body: %s", body)
	}
	if strings.Contains(body, "\"\": 5") {
		t.Fatalf("did not expect empty-key gauge in body: %s", body)
	}
}
