package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aegis/pkg/acl"
	"aegis/pkg/config"
	"aegis/pkg/hardening"
	"aegis/pkg/httpx"
	"aegis/pkg/metrics"
	"aegis/pkg/policy"
	"aegis/pkg/solver"
	"aegis/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Server holds the gateway's wired collaborators. Every dependency is
// passed in explicitly so tests can assemble one without the env.
type Server struct {
	Registry            *acl.Registry
	Metrics             *metrics.Registry
	Solver              *acl.Adapter[solver.Request, solver.Response]
	Policy              *acl.Adapter[policy.Request, policy.Response]
	MaxRequestBodyBytes int64
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        func(*http.Server) error
)

func main() {
	if err := run(initTelemetryFn, listenFn); err != nil {
		logFatalf("aclgate: %v", err)
	}
}

func run(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := hardening.ValidateProduction(hardening.Options{
		Service:            "aclgate",
		Environment:        config.Env("AEGIS_ENVIRONMENT", ""),
		StrictProdSecurity: config.Env("AEGIS_STRICT_PROD_SECURITY", "true"),
		PolicyURL:          config.Env("AEGIS_POLICY_URL", ""),
		RedisAddr:          config.Env("AEGIS_REDIS_ADDR", ""),
		RedisRequireTLS:    config.Env("AEGIS_REDIS_REQUIRE_TLS", ""),
		CORSAllowedOrigins: config.Env("AEGIS_CORS_ALLOWED_ORIGINS", ""),
		RequiredSecrets: []hardening.EnvRequirement{
			{Name: "AEGIS_POLICY_TOKEN", Value: config.Env("AEGIS_POLICY_TOKEN", "")},
		},
	}); err != nil {
		return err
	}

	shutdown, err := initTelemetry(ctx, "aclgate")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	registry := acl.NewRegistry()
	reg := metrics.NewRegistry()
	bus := acl.NewEventBus()
	events := bus.Subscribe(config.EnvInt("AEGIS_EVENT_BUFFER", 256))
	go func() {
		for evt := range events {
			switch evt.Outcome {
			case acl.OutcomeFailure, acl.OutcomeCircuitOpen, acl.OutcomeRateLimited:
				log.Printf("[%s] adapter=%s outcome=%s latency_ms=%.3f retries=%d",
					config.GovernanceTag, evt.Adapter, evt.Outcome, evt.LatencyMS, evt.RetryCount)
			}
		}
	}()
	defer bus.Unsubscribe(events)
	defer func() {
		if err := registry.CloseAll(); err != nil {
			log.Printf("[%s] adapter close: %v", config.GovernanceTag, err)
		}
	}()

	solverAdapter, err := solver.Default(registry, reg, bus)
	if err != nil {
		return err
	}
	policyAdapter, err := policy.Default(registry, reg, bus)
	if err != nil {
		return err
	}

	if addr := config.Env("AEGIS_REDIS_ADDR", ""); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.Env("AEGIS_REDIS_PASSWORD", ""),
			DB:       config.EnvInt("AEGIS_REDIS_DB", 0),
		})
		solverAdapter.UseSharedCache(ctx, client)
		policyAdapter.UseSharedCache(ctx, client)
	}
	reg.SetGauge("adapters_registered", float64(len(registry.List())))

	s := &Server{
		Registry:            registry,
		Metrics:             reg,
		Solver:              solverAdapter,
		Policy:              policyAdapter,
		MaxRequestBodyBytes: int64(config.EnvInt("AEGIS_MAX_REQUEST_BODY_BYTES", 1<<20)),
	}

	addr := config.Env("AEGIS_ADDR", ":8086")
	log.Printf("[%s] aclgate listening on %s", config.GovernanceTag, addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- listen(server) }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(config.Env("AEGIS_CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(httpx.RequestIDMiddleware)
	r.Use(telemetry.HTTPMiddleware("aclgate"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"status":         "ok",
			"service":        "aclgate",
			"governance_tag": config.GovernanceTag,
		})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prom", s.Metrics.PrometheusHandler())

	r.Get("/v1/adapters", s.listAdapters)
	r.Get("/v1/adapters/health", s.allHealth)
	r.Post("/v1/adapters/{name}/breaker/reset", s.resetBreaker)
	r.Post("/v1/adapters/{name}/cache/clear", s.clearCache)

	r.Post("/v1/solver/check", s.solverCheck)
	r.Post("/v1/solver/prove", s.solverProve)
	r.Post("/v1/policy/compliance", s.policyCompliance)
	r.Post("/v1/policy/permission", s.policyPermission)
	r.Post("/v1/policy/role-separation", s.policyRoleSeparation)
	return r
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && s.MaxRequestBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "read body: "+err.Error())
		return false
	}
	if len(body) == 0 {
		httpx.Error(w, http.StatusBadRequest, "empty request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		httpx.Error(w, http.StatusBadRequest, "decode request: "+err.Error())
		return false
	}
	return true
}

// writeEnvelope maps envelope outcomes to HTTP statuses: resolved
// verdicts are 200 even when degraded, unresolved failures are 502.
func writeEnvelope[R any](w http.ResponseWriter, env acl.Envelope[R]) {
	status := http.StatusOK
	if !env.Success {
		status = http.StatusBadGateway
		var rateErr *acl.RateLimitError
		if errors.As(env.Err, &rateErr) {
			status = http.StatusTooManyRequests
		}
	}
	httpx.WriteJSON(w, status, env)
}

func (s *Server) listAdapters(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"adapters": s.Registry.List(),
		"metrics":  s.Registry.AllMetrics(),
	})
}

func (s *Server) allHealth(w http.ResponseWriter, r *http.Request) {
	health := s.Registry.AllHealth()
	status := http.StatusOK
	for _, h := range health {
		if h.Degraded {
			status = http.StatusServiceUnavailable
		}
	}
	httpx.WriteJSON(w, status, health)
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	managed, ok := s.Registry.Get(name)
	if !ok {
		httpx.Error(w, http.StatusNotFound, "unknown adapter: "+name)
		return
	}
	managed.ResetBreaker()
	log.Printf("[%s] breaker reset for adapter %s", config.GovernanceTag, name)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"adapter": name, "breaker": "closed"})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	managed, ok := s.Registry.Get(name)
	if !ok {
		httpx.Error(w, http.StatusNotFound, "unknown adapter: "+name)
		return
	}
	managed.ClearCache()
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"adapter": name, "cache": "cleared"})
}

func (s *Server) solverCheck(w http.ResponseWriter, r *http.Request) {
	var req solver.Request
	if !s.decode(w, r, &req) {
		return
	}
	if req.TraceID == "" {
		req.TraceID = httpx.RequestID(r.Context())
	}
	writeEnvelope(w, solver.CheckSatisfiability(r.Context(), s.Solver, req))
}

type proveRequest struct {
	Property  string   `json:"property"`
	Context   []string `json:"context,omitempty"`
	WantProof bool     `json:"want_proof,omitempty"`
	WantCore  bool     `json:"want_unsat_core,omitempty"`
	TimeoutMS int      `json:"timeout_ms,omitempty"`
	TraceID   string   `json:"trace_id,omitempty"`
}

type proveResponse struct {
	Proved   bool                          `json:"proved"`
	Envelope acl.Envelope[solver.Response] `json:"envelope"`
}

func (s *Server) solverProve(w http.ResponseWriter, r *http.Request) {
	var req proveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Property == "" {
		httpx.Error(w, http.StatusBadRequest, "property is required")
		return
	}
	if req.TraceID == "" {
		req.TraceID = httpx.RequestID(r.Context())
	}
	opts := solver.Request{
		WantProof:     req.WantProof,
		WantUnsatCore: req.WantCore,
		TraceID:       req.TraceID,
	}
	if req.TimeoutMS > 0 {
		opts.TimeoutOverride = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	env := solver.ProveProperty(r.Context(), s.Solver, req.Property, req.Context, opts)
	status := http.StatusOK
	if !env.Success {
		status = http.StatusBadGateway
	}
	httpx.WriteJSON(w, status, proveResponse{Proved: solver.Proved(env), Envelope: env})
}

type complianceRequest struct {
	Action   string                 `json:"action"`
	Resource string                 `json:"resource"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) policyCompliance(w http.ResponseWriter, r *http.Request) {
	var req complianceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Action == "" || req.Resource == "" {
		httpx.Error(w, http.StatusBadRequest, "action and resource are required")
		return
	}
	writeEnvelope(w, policy.CheckCompliance(r.Context(), s.Policy, req.Action, req.Resource, req.Context))
}

type permissionRequest struct {
	AgentID    string `json:"agent_id"`
	Permission string `json:"permission"`
	Target     string `json:"target,omitempty"`
}

func (s *Server) policyPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Permission == "" {
		httpx.Error(w, http.StatusBadRequest, "agent_id and permission are required")
		return
	}
	writeEnvelope(w, policy.CheckPermission(r.Context(), s.Policy, req.AgentID, req.Permission, req.Target))
}

type roleSeparationRequest struct {
	Role       string `json:"role"`
	Action     string `json:"action"`
	TargetRole string `json:"target_role"`
}

func (s *Server) policyRoleSeparation(w http.ResponseWriter, r *http.Request) {
	var req roleSeparationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Role == "" || req.TargetRole == "" {
		httpx.Error(w, http.StatusBadRequest, "role and target_role are required")
		return
	}
	writeEnvelope(w, policy.EvaluateRoleSeparation(r.Context(), s.Policy, req.Role, req.Action, req.TargetRole))
}
