package policy

import (
	"context"
	"log"
	"strconv"

	"github.com/google/uuid"

	"aegis/pkg/acl"
	"aegis/pkg/config"
	"aegis/pkg/metrics"
)

// AdapterName is the registry key for the shared policy adapter.
const AdapterName = "policy"

// Engine implements the ACL protocol hooks for the policy server.
// failClosed controls the fallback verdict: when true (the default)
// any unresolved failure denies, so an outage never grants access.
type Engine struct {
	backend    Backend
	failClosed bool
	simulation bool
}

// NewEngine wires a backend. A nil backend falls back to local
// simulation so the process keeps answering, still fail-closed.
func NewEngine(backend Backend, failClosed bool) *Engine {
	simulation := false
	if backend == nil {
		backend = NewSimulationBackend(ParseSimulationRules(config.Env("AEGIS_POLICY_SIMULATION_RULES", "")))
		simulation = true
		log.Printf("[%s] policy server not configured, evaluating in simulation mode", config.GovernanceTag)
	}
	if _, ok := backend.(*SimulationBackend); ok {
		simulation = true
	}
	return &Engine{backend: backend, failClosed: failClosed, simulation: simulation}
}

// NewEngineFromEnv builds the HTTP engine from AEGIS_POLICY_* vars,
// degrading to simulation when AEGIS_POLICY_URL is unset or invalid.
func NewEngineFromEnv() *Engine {
	failClosed := config.EnvBool("AEGIS_POLICY_FAIL_CLOSED", true)
	baseURL := config.Env("AEGIS_POLICY_URL", "")
	if baseURL == "" {
		return NewEngine(nil, failClosed)
	}
	backend, err := NewHTTPBackend(
		baseURL,
		config.Env("AEGIS_POLICY_BUNDLE", ""),
		nil,
		config.Env("AEGIS_POLICY_TOKEN", ""),
	)
	if err != nil {
		log.Printf("[%s] policy backend rejected: %v", config.GovernanceTag, err)
		return NewEngine(nil, failClosed)
	}
	return NewEngine(backend, failClosed)
}

func (e *Engine) Execute(ctx context.Context, req Request) (Response, error) {
	return e.backend.Evaluate(ctx, req)
}

// Validate requires an actual verdict. A response that never carried
// an allow decision must not be cached or trusted.
func (e *Engine) Validate(resp Response) bool {
	return resp.Decided
}

func (e *Engine) CacheKey(req Request) string {
	return hashRequest(req.PolicyPath, req.Input)
}

// Fallback is the fail-closed deny. With failClosed disabled there is
// no fallback and the caller sees the raw failure instead.
func (e *Engine) Fallback(ctx context.Context, req Request) (Response, bool) {
	if !e.failClosed {
		return Response{}, false
	}
	return Response{
		Allow:      false,
		Decided:    true,
		DecisionID: uuid.NewString(),
		Result: map[string]interface{}{
			"allow":  false,
			"reason": "fail-closed: policy evaluation did not complete",
		},
		TraceID: req.EffectiveTraceID(),
	}, true
}

func (e *Engine) HealthDetails() map[string]string {
	return map[string]string{
		"fail_closed": strconv.FormatBool(e.failClosed),
		"simulation":  strconv.FormatBool(e.simulation),
	}
}

func (e *Engine) Close() error {
	return e.backend.Close()
}

// NewAdapter builds the policy adapter with policy-tuned defaults.
func NewAdapter(cfg acl.Config, engine *Engine, reg *metrics.Registry, bus *acl.EventBus) *acl.Adapter[Request, Response] {
	if engine == nil {
		engine = NewEngineFromEnv()
	}
	return acl.New[Request, Response](AdapterName, engine, cfg, reg, bus)
}

// Default returns the registry-managed policy adapter, creating it
// with environment-derived defaults on first use.
func Default(registry *acl.Registry, reg *metrics.Registry, bus *acl.EventBus) (*acl.Adapter[Request, Response], error) {
	managed, err := registry.GetOrCreate(AdapterName, func() (acl.Managed, error) {
		cfg := acl.ConfigFromEnv("AEGIS_POLICY", acl.PolicyDefaults())
		return NewAdapter(cfg, nil, reg, bus), nil
	})
	if err != nil {
		return nil, err
	}
	return managed.(*acl.Adapter[Request, Response]), nil
}
