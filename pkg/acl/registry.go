package acl

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"aegis/pkg/config"
	"aegis/pkg/metrics"
)

// Managed is the type-erased surface the registry holds for each
// generic adapter instance.
type Managed interface {
	Name() string
	Health() Health
	Stats() metrics.AdapterStat
	ResetBreaker()
	ClearCache()
	Close() error
}

// Registry is the process-wide directory of named adapters. It is
// constructed once at process start and passed by reference to every
// consumer; there is no ambient global instance.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Managed
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Managed{}}
}

// GetOrCreate returns the existing named adapter, or invokes factory to
// build and store one. The factory runs at most once per name; under
// concurrent first access, losers receive the winner's instance.
func (r *Registry) GetOrCreate(name string, factory func() (Managed, error)) (Managed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.adapters[name]; ok {
		return existing, nil
	}
	built, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build adapter %s: %w", name, err)
	}
	if built == nil {
		return nil, fmt.Errorf("adapter factory %s returned nil", name)
	}
	r.adapters[name] = built
	return built, nil
}

func (r *Registry) Get(name string) (Managed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Remove detaches and closes the named adapter.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	adapter, ok := r.adapters[name]
	if ok {
		delete(r.adapters, name)
	}
	r.mu.Unlock()
	if ok {
		if err := adapter.Close(); err != nil {
			log.Printf("[%s] close adapter %s: %v", config.GovernanceTag, name, err)
		}
	}
}

func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetAll forces every breaker CLOSED and clears every cache.
func (r *Registry) ResetAll() {
	for _, adapter := range r.snapshot() {
		adapter.ResetBreaker()
		adapter.ClearCache()
	}
}

// AllHealth aggregates per-adapter health for the observability layer.
func (r *Registry) AllHealth() map[string]Health {
	out := map[string]Health{}
	for name, adapter := range r.snapshot() {
		out[name] = adapter.Health()
	}
	return out
}

// AllMetrics aggregates per-adapter call counters.
func (r *Registry) AllMetrics() map[string]metrics.AdapterStat {
	out := map[string]metrics.AdapterStat{}
	for name, adapter := range r.snapshot() {
		out[name] = adapter.Stats()
	}
	return out
}

// CloseAll closes every adapter, keeping the first error.
func (r *Registry) CloseAll() error {
	var firstErr error
	for name, adapter := range r.snapshot() {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close adapter %s: %w", name, err)
		}
	}
	return firstErr
}

func (r *Registry) snapshot() map[string]Managed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Managed, len(r.adapters))
	for name, adapter := range r.adapters {
		out[name] = adapter
	}
	return out
}
