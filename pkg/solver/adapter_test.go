package solver

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aegis/pkg/acl"
)

// fakeBackend scripts solver verdicts without a z3 binary.
type fakeBackend struct {
	result    string
	model     string
	core      []string
	err       error
	available bool
	calls     atomic.Int64
	block     time.Duration
}

func (f *fakeBackend) Solve(ctx context.Context, script string, req Request) (Response, error) {
	f.calls.Add(1)
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Response{}, f.err
	}
	resp := Response{Result: f.result}
	if req.WantModel {
		resp.Model = f.model
	}
	if req.WantUnsatCore {
		resp.UnsatCore = f.core
	}
	return resp, nil
}

func (f *fakeBackend) Available() bool { return f.available }

func testAdapter(backend Backend) *acl.Adapter[Request, Response] {
	cfg := acl.SolverDefaults()
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RatePerSecond = 1000
	cfg.RateBurst = 1000
	engine := NewEngine(backend, NewPool(2), cfg.Timeout)
	return NewAdapter(cfg, engine, nil, nil)
}

func TestCheckSatisfiability(t *testing.T) {
	backend := &fakeBackend{result: ResultSat, model: "(define-fun x () Int 1)", available: true}
	a := testAdapter(backend)
	env := CheckSatisfiability(context.Background(), a, Request{Formula: "(> x 0)", WantModel: true})
	if !env.Success || env.Data.Result != ResultSat {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Data.Model == "" {
		t.Fatalf("expected model in response")
	}
	if env.Data.TraceID == "" {
		t.Fatalf("trace id should default to a formula hash")
	}
}

func TestSolverCacheDeterminism(t *testing.T) {
	backend := &fakeBackend{result: ResultUnsat, core: []string{"a1"}, available: true}
	a := testAdapter(backend)
	req := Request{Formula: "(< x 0)", Assertions: []string{"(> x 1)"}, WantUnsatCore: true}
	first := CheckSatisfiability(context.Background(), a, req)
	second := CheckSatisfiability(context.Background(), a, req)
	if !second.FromCache {
		t.Fatalf("second identical request should be served from cache: %+v", second)
	}
	if second.Data.Result != first.Data.Result || second.Data.Model != first.Data.Model {
		t.Fatalf("cached response must match: %+v vs %+v", first.Data, second.Data)
	}
	if len(second.Data.UnsatCore) != 1 || second.Data.UnsatCore[0] != "a1" {
		t.Fatalf("cached core must match: %+v", second.Data.UnsatCore)
	}
	if backend.calls.Load() != 1 {
		t.Fatalf("cache hit must not reach the backend, calls=%d", backend.calls.Load())
	}
}

func TestSolverUnavailableShortCircuitsToUnknown(t *testing.T) {
	backend := &fakeBackend{available: false}
	a := testAdapter(backend)
	env := CheckSatisfiability(context.Background(), a, Request{Formula: "(> x 0)"})
	if !env.Success || env.Data.Result != ResultUnknown {
		t.Fatalf("unavailable solver must answer unknown: %+v", env)
	}
	if backend.calls.Load() != 0 {
		t.Fatalf("unavailable backend must not be invoked")
	}
	health := a.Health()
	if health.Details["solver_available"] != "false" || !health.Degraded {
		t.Fatalf("unavailability must surface in health: %+v", health)
	}
}

func TestSolverFallbackOnPersistentErrors(t *testing.T) {
	backend := &fakeBackend{err: errors.New("solver crashed"), available: true}
	a := testAdapter(backend)
	env := CheckSatisfiability(context.Background(), a, Request{Formula: "(> x 0)"})
	if !env.Success || !env.FromFallback {
		t.Fatalf("expected fallback envelope: %+v", env)
	}
	if env.Data.Result != ResultUnknown {
		t.Fatalf("fallback must never invent sat or unsat: %+v", env.Data)
	}
}

func TestSolverTimeoutFallsBackToUnknown(t *testing.T) {
	backend := &fakeBackend{result: ResultSat, available: true, block: time.Second}
	a := testAdapter(backend)
	env := CheckSatisfiability(context.Background(), a, Request{Formula: "(> x 0)"})
	if !env.Success || !env.FromFallback || env.Data.Result != ResultUnknown {
		t.Fatalf("timeout should degrade to unknown fallback: %+v", env)
	}
}

func TestProveProperty(t *testing.T) {
	backend := &fakeBackend{result: ResultUnsat, available: true}
	a := testAdapter(backend)
	env := ProveProperty(context.Background(), a, "(>= balance 0)", []string{"(declare-const balance Int)", "(> balance 10)"}, Request{})
	if !Proved(env) {
		t.Fatalf("unsat negation should prove the property: %+v", env)
	}
}

func TestProvePropertyFailedProofReturnsCounterexample(t *testing.T) {
	backend := &fakeBackend{result: ResultSat, model: "(define-fun balance () Int -3)", available: true}
	a := testAdapter(backend)
	env := ProveProperty(context.Background(), a, "(>= balance 0)", []string{"(declare-const balance Int)"}, Request{WantModel: true})
	if Proved(env) {
		t.Fatalf("sat negation must not prove the property: %+v", env)
	}
	if env.Data.Model == "" {
		t.Fatal("failed proof should carry the counterexample model")
	}
}

func TestProvePropertyUnknownDoesNotProve(t *testing.T) {
	backend := &fakeBackend{result: ResultUnknown, available: true}
	a := testAdapter(backend)
	env := ProveProperty(context.Background(), a, "(>= balance 0)", nil, Request{})
	if Proved(env) {
		t.Fatalf("unknown must not count as a proof: %+v", env)
	}
}

func TestEngineValidate(t *testing.T) {
	e := NewEngine(&fakeBackend{available: true}, nil, time.Second)
	for _, ok := range []string{ResultSat, ResultUnsat, ResultUnknown} {
		if !e.Validate(Response{Result: ok}) {
			t.Fatalf("%s should validate", ok)
		}
	}
	if e.Validate(Response{Result: "maybe"}) {
		t.Fatalf("unexpected verdict must fail validation")
	}
}

func TestBuildScript(t *testing.T) {
	req := Request{
		Formula:       "(> x 0)",
		Assertions:    []string{"(declare-const x Int)", "(< x 10)"},
		WantModel:     true,
		WantUnsatCore: true,
	}
	script := buildScript(req)
	for _, want := range []string{
		"(set-option :produce-unsat-cores true)",
		"(set-option :produce-models true)",
		"(declare-const x Int)",
		"(assert (! (< x 10) :named a1))",
		"(assert (! (> x 0) :named a2))",
		"(check-sat)",
		"(get-model)",
		"(get-unsat-core)",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "(assert (! (declare-const") {
		t.Fatalf("declarations must pass through unasserted:\n%s", script)
	}
}

func TestParseOutputSatWithModel(t *testing.T) {
	out := "sat\n(\n  (define-fun x () Int 3)\n)"
	resp := parseOutput(out, Request{WantModel: true})
	if resp.Result != ResultSat {
		t.Fatalf("expected sat, got %q", resp.Result)
	}
	if !strings.Contains(resp.Model, "define-fun x") {
		t.Fatalf("model not captured: %q", resp.Model)
	}
}

func TestParseOutputUnsatCore(t *testing.T) {
	out := "unsat\n(a1 a3)"
	resp := parseOutput(out, Request{WantUnsatCore: true})
	if resp.Result != ResultUnsat {
		t.Fatalf("expected unsat, got %q", resp.Result)
	}
	if len(resp.UnsatCore) != 2 || resp.UnsatCore[0] != "a1" || resp.UnsatCore[1] != "a3" {
		t.Fatalf("unexpected core: %+v", resp.UnsatCore)
	}
}

func TestParseOutputGarbage(t *testing.T) {
	resp := parseOutput("error \"line 1: unexpected token\"", Request{})
	if resp.Result != ResultUnknown {
		t.Fatalf("garbage output should parse as unknown, got %q", resp.Result)
	}
}

func TestEffectiveTraceID(t *testing.T) {
	a := Request{Formula: "(> x 0)"}
	b := Request{Formula: "(> x 0)"}
	if a.EffectiveTraceID() != b.EffectiveTraceID() {
		t.Fatalf("identical formulas must hash to the same trace id")
	}
	c := Request{Formula: "(> x 0)", TraceID: "caller-id"}
	if c.EffectiveTraceID() != "caller-id" {
		t.Fatalf("caller trace id must win")
	}
}

func TestResolveBinaryRejectsArbitraryPaths(t *testing.T) {
	if _, err := resolveBinary("rm -rf"); err == nil {
		t.Fatalf("whitespace in binary path must be rejected")
	}
	if _, err := resolveBinary("/usr/bin/python3"); err == nil {
		t.Fatalf("non-z3 binaries must be rejected")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(1)
	var inFlight, peak atomic.Int64
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			_, _ = pool.Run(context.Background(), func() (Response, error) {
				n := inFlight.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return Response{Result: ResultSat}, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	if peak.Load() != 1 {
		t.Fatalf("pool of one must serialize execution, peak=%d", peak.Load())
	}
}
