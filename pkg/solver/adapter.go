package solver

import (
	"context"
	"log"
	"strconv"
	"time"

	"aegis/pkg/acl"
	"aegis/pkg/config"
	"aegis/pkg/metrics"
)

// AdapterName is the registry key for the shared solver adapter.
const AdapterName = "solver"

// Engine implements the ACL protocol hooks for the SMT solver.
type Engine struct {
	backend Backend
	pool    *Pool
	timeout time.Duration
}

// NewEngine wires a backend behind a worker pool. A nil backend gets
// the default z3 subprocess backend.
func NewEngine(backend Backend, pool *Pool, timeout time.Duration) *Engine {
	if backend == nil {
		backend = NewZ3Exec(config.Env("AEGIS_Z3_BINARY", "z3"))
	}
	if pool == nil {
		pool = NewPool(config.EnvInt("AEGIS_SOLVER_WORKERS", 4))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if !backend.Available() {
		log.Printf("[%s] solver backend unavailable, adapter degrades to unknown", config.GovernanceTag)
	}
	return &Engine{backend: backend, pool: pool, timeout: timeout}
}

// Execute dispatches the formula to the solver on the worker pool.
// When no backend is available it short-circuits to an unknown result
// instead of failing the caller; the health flag records degradation.
func (e *Engine) Execute(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	traceID := req.EffectiveTraceID()
	if !e.backend.Available() {
		return Response{
			Result:  ResultUnknown,
			TraceID: traceID,
			Statistics: map[string]string{
				"reason": "solver backend unavailable",
			},
		}, nil
	}
	timeout := e.timeout
	if req.TimeoutOverride > 0 {
		timeout = req.TimeoutOverride
	}
	script := buildScript(req)
	resp, err := e.pool.Run(ctx, func() (Response, error) {
		solveCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return e.backend.Solve(solveCtx, script, req)
	})
	if err != nil {
		return Response{}, err
	}
	resp.TraceID = traceID
	if resp.Statistics == nil {
		resp.Statistics = map[string]string{}
	}
	resp.Statistics["elapsed_ms"] = elapsedStat(time.Since(started))
	resp.Statistics["workers"] = strconv.Itoa(e.pool.Size())
	return resp, nil
}

// Validate accepts only the three solver verdicts.
func (e *Engine) Validate(resp Response) bool {
	switch resp.Result {
	case ResultSat, ResultUnsat, ResultUnknown:
		return true
	default:
		return false
	}
}

// CacheKey hashes formula plus assertions. Solving is deterministic,
// so identical input always yields identical output.
func (e *Engine) CacheKey(req Request) string {
	return hashInputs(req.Formula, req.Assertions)
}

// Fallback answers unknown. A formal-verification oracle may always
// say "I don't know"; it must never invent sat or unsat.
func (e *Engine) Fallback(ctx context.Context, req Request) (Response, bool) {
	return Response{
		Result:  ResultUnknown,
		TraceID: req.EffectiveTraceID(),
		Statistics: map[string]string{
			"reason": "degraded: solver call did not complete",
		},
	}, true
}

func (e *Engine) HealthDetails() map[string]string {
	available := e.backend.Available()
	details := map[string]string{
		"solver_available": strconv.FormatBool(available),
	}
	if !available {
		details["degraded"] = "true"
	}
	return details
}

// NewAdapter builds the solver adapter with solver-tuned defaults.
func NewAdapter(cfg acl.Config, engine *Engine, reg *metrics.Registry, bus *acl.EventBus) *acl.Adapter[Request, Response] {
	if engine == nil {
		engine = NewEngine(nil, nil, cfg.Timeout)
	}
	return acl.New[Request, Response](AdapterName, engine, cfg, reg, bus)
}

// Default returns the registry-managed solver adapter, creating it
// with environment-derived defaults on first use.
func Default(registry *acl.Registry, reg *metrics.Registry, bus *acl.EventBus) (*acl.Adapter[Request, Response], error) {
	managed, err := registry.GetOrCreate(AdapterName, func() (acl.Managed, error) {
		cfg := acl.ConfigFromEnv("AEGIS_SOLVER", acl.SolverDefaults())
		return NewAdapter(cfg, nil, reg, bus), nil
	})
	if err != nil {
		return nil, err
	}
	return managed.(*acl.Adapter[Request, Response]), nil
}
