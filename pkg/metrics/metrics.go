package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry accumulates per-adapter call accounting. A single instance
// is shared by every adapter in the process and scraped through the
// gateway metrics endpoints.
type Registry struct {
	mu            sync.RWMutex
	adapters      map[string]*AdapterStat
	gauges        map[string]float64
	droppedEvents int64
	Histograms    *HistogramRegistry
}

type AdapterStat struct {
	Calls             int64   `json:"calls"`
	Successes         int64   `json:"successes"`
	Failures          int64   `json:"failures"`
	CacheHits         int64   `json:"cache_hits"`
	Fallbacks         int64   `json:"fallbacks"`
	RateLimited       int64   `json:"rate_limited"`
	CircuitRejections int64   `json:"circuit_rejections"`
	Retries           int64   `json:"retries"`
	TotalMillis       int64   `json:"total_millis"`
	MaxMillis         int64   `json:"max_millis"`
	AverageMillis     float64 `json:"average_millis"`
}

type Snapshot struct {
	GeneratedAt   string                 `json:"generated_at"`
	Adapters      map[string]AdapterStat `json:"adapters"`
	Gauges        map[string]float64     `json:"gauges"`
	DroppedEvents int64                  `json:"dropped_events_total"`
	Histograms    []HistogramSnapshot    `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		adapters:   map[string]*AdapterStat{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

// CallOutcome describes what one Call produced, for accounting.
type CallOutcome struct {
	Success      bool
	FromCache    bool
	FromFallback bool
	RateLimited  bool
	CircuitOpen  bool
	Retries      int
}

func (r *Registry) ObserveCall(adapter string, outcome CallOutcome, d time.Duration) {
	millis := d.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	r.mu.Lock()
	stat, ok := r.adapters[adapter]
	if !ok {
		stat = &AdapterStat{}
		r.adapters[adapter] = stat
	}
	stat.Calls++
	switch {
	case outcome.RateLimited:
		stat.RateLimited++
		stat.Failures++
	case outcome.CircuitOpen && !outcome.FromFallback:
		stat.CircuitRejections++
		stat.Failures++
	case outcome.FromCache:
		stat.CacheHits++
		stat.Successes++
	case outcome.FromFallback:
		stat.Fallbacks++
		if outcome.CircuitOpen {
			stat.CircuitRejections++
		}
		stat.Successes++
	case outcome.Success:
		stat.Successes++
	default:
		stat.Failures++
	}
	stat.Retries += int64(outcome.Retries)
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Calls)
	r.mu.Unlock()
	r.Histograms.ObserveDuration(adapter, d)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) SetDroppedEvents(total int64) {
	r.mu.Lock()
	r.droppedEvents = total
	r.mu.Unlock()
}

// StatFor returns a copy of one adapter's counters.
func (r *Registry) StatFor(adapter string) AdapterStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if stat, ok := r.adapters[adapter]; ok {
		return *stat
	}
	return AdapterStat{}
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Adapters:      make(map[string]AdapterStat, len(r.adapters)),
		Gauges:        make(map[string]float64, len(r.gauges)),
		DroppedEvents: r.droppedEvents,
	}
	for name, stat := range r.adapters {
		out.Adapters[name] = *stat
	}
	for name, value := range r.gauges {
		out.Gauges[name] = value
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		counter := func(metric, help string, value func(AdapterStat) int64) {
			fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", metric, help, metric)
			for _, name := range SortedKeys(snap.Adapters) {
				fmt.Fprintf(b, "%s{adapter=%q} %d\n", metric, name, value(snap.Adapters[name]))
			}
		}
		counter("aegis_acl_calls_total", "total adapter calls", func(s AdapterStat) int64 { return s.Calls })
		counter("aegis_acl_successes_total", "successful adapter calls", func(s AdapterStat) int64 { return s.Successes })
		counter("aegis_acl_failures_total", "failed adapter calls", func(s AdapterStat) int64 { return s.Failures })
		counter("aegis_acl_cache_hits_total", "calls served from cache", func(s AdapterStat) int64 { return s.CacheHits })
		counter("aegis_acl_fallbacks_total", "calls resolved by fallback", func(s AdapterStat) int64 { return s.Fallbacks })
		counter("aegis_acl_rate_limited_total", "calls rejected by rate limit", func(s AdapterStat) int64 { return s.RateLimited })
		counter("aegis_acl_circuit_rejections_total", "calls rejected by open circuit", func(s AdapterStat) int64 { return s.CircuitRejections })
		counter("aegis_acl_retries_total", "retry attempts", func(s AdapterStat) int64 { return s.Retries })

		b.WriteString("# HELP aegis_acl_avg_millis adapter average latency in milliseconds\n")
		b.WriteString("# TYPE aegis_acl_avg_millis gauge\n")
		for _, name := range SortedKeys(snap.Adapters) {
			fmt.Fprintf(b, "aegis_acl_avg_millis{adapter=%q} %.3f\n", name, snap.Adapters[name].AverageMillis)
		}
		b.WriteString("# HELP aegis_acl_max_millis adapter max latency in milliseconds\n")
		b.WriteString("# TYPE aegis_acl_max_millis gauge\n")
		for _, name := range SortedKeys(snap.Adapters) {
			fmt.Fprintf(b, "aegis_acl_max_millis{adapter=%q} %d\n", name, snap.Adapters[name].MaxMillis)
		}
		b.WriteString("# HELP aegis_acl_gauge operational gauge metrics\n")
		b.WriteString("# TYPE aegis_acl_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "aegis_acl_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP aegis_acl_dropped_events_total events dropped on backpressure\n")
		b.WriteString("# TYPE aegis_acl_dropped_events_total counter\n")
		fmt.Fprintf(b, "aegis_acl_dropped_events_total %d\n", snap.DroppedEvents)

		for _, h := range snap.Histograms {
			b.WriteString("# HELP aegis_acl_latency_seconds adapter latency histogram\n")
			b.WriteString("# TYPE aegis_acl_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "aegis_acl_latency_seconds_bucket{adapter=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "aegis_acl_latency_seconds_bucket{adapter=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aegis_acl_latency_seconds_sum{adapter=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "aegis_acl_latency_seconds_count{adapter=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aegis_acl_latency_p50_seconds{adapter=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "aegis_acl_latency_p95_seconds{adapter=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "aegis_acl_latency_p99_seconds{adapter=%q} %.6f\n", h.Name, h.P99)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
