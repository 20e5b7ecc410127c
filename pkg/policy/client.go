package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/httpx"
	"aegis/pkg/telemetry"
)

// Backend evaluates one policy query. Implementations must honor ctx.
type Backend interface {
	Evaluate(ctx context.Context, req Request) (Response, error)
	Available() bool
	Close() error
}

// HTTPBackend queries an OPA-compatible policy server over its data API.
type HTTPBackend struct {
	baseURL    string
	bundlePath string
	client     *http.Client
	authToken  string
}

// NewHTTPBackend trims and validates the base URL. The client is
// instrumented for trace propagation to the policy server.
func NewHTTPBackend(baseURL, bundlePath string, client *http.Client, authToken string) (*HTTPBackend, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("policy: base URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("policy: bad base URL: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBackend{
		baseURL:    baseURL,
		bundlePath: strings.Trim(strings.TrimSpace(bundlePath), "/"),
		client:     telemetry.InstrumentClient(client),
		authToken:  strings.TrimSpace(authToken),
	}, nil
}

func (b *HTTPBackend) Available() bool { return true }

func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// queryURL builds /v1/data/<bundle>/<policy-path> with query flags.
func (b *HTTPBackend) queryURL(req Request) string {
	segments := make([]string, 0, 2)
	if b.bundlePath != "" {
		segments = append(segments, b.bundlePath)
	}
	if p := strings.Trim(strings.TrimSpace(req.PolicyPath), "/"); p != "" {
		segments = append(segments, p)
	}
	target := b.baseURL + "/v1/data"
	if joined := strings.Join(segments, "/"); joined != "" {
		target += "/" + joined
	}
	params := url.Values{}
	if req.Explain {
		params.Set("explain", "full")
	}
	if req.Pretty {
		params.Set("pretty", "true")
	}
	if req.WantMetrics {
		params.Set("metrics", "true")
	}
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

type serverResponse struct {
	Result      json.RawMessage        `json:"result"`
	DecisionID  string                 `json:"decision_id"`
	Explanation json.RawMessage        `json:"explanation"`
	Metrics     map[string]interface{} `json:"metrics"`
}

func (b *HTTPBackend) Evaluate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(map[string]interface{}{"input": req.Input})
	if err != nil {
		return Response{}, fmt.Errorf("encode policy input: %w", err)
	}
	headers := map[string]string{}
	if b.authToken != "" {
		headers["Authorization"] = "Bearer " + b.authToken
	}
	// Retries belong to the surrounding pipeline, not the transport.
	status, body, err := httpx.RequestJSON(ctx, b.client, http.MethodPost, b.queryURL(req), payload, headers, 0, 0)
	if err != nil {
		return Response{}, fmt.Errorf("policy server: %w", err)
	}
	if status != http.StatusOK {
		return Response{}, fmt.Errorf("policy server status %d: %s", status, truncate(string(body), 200))
	}
	var decoded serverResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode policy response: %w", err)
	}
	resp := Response{
		DecisionID: decoded.DecisionID,
		Metrics:    decoded.Metrics,
		TraceID:    req.EffectiveTraceID(),
	}
	if resp.DecisionID == "" {
		resp.DecisionID = uuid.NewString()
	}
	if len(decoded.Explanation) > 0 {
		var expl interface{}
		if json.Unmarshal(decoded.Explanation, &expl) == nil {
			resp.Explanation = expl
		}
	}
	resp.Allow, resp.Result, resp.Decided = extractDecision(decoded.Result)
	return resp, nil
}

// extractDecision accepts both a bare boolean result and a document
// with an "allow" field. Anything else is an undecided response.
func extractDecision(raw json.RawMessage) (allow bool, result map[string]interface{}, decided bool) {
	if len(raw) == 0 {
		return false, nil, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil, true
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, nil, false
	}
	verdict, ok := doc["allow"].(bool)
	if !ok {
		return false, doc, false
	}
	return verdict, doc, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
