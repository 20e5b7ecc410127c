package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SimulationRule allows one (path, action) pair in simulation mode.
// An empty Action matches any action under the path.
type SimulationRule struct {
	PolicyPath string
	Action     string
}

// SimulationBackend evaluates queries locally against a static allow
// list. Everything not explicitly allowed is denied; the decision is
// still a real verdict, so validation passes and fail-closed holds
// without a policy server.
type SimulationBackend struct {
	rules []SimulationRule
}

func NewSimulationBackend(rules []SimulationRule) *SimulationBackend {
	cleaned := make([]SimulationRule, 0, len(rules))
	for _, r := range rules {
		r.PolicyPath = strings.Trim(strings.TrimSpace(r.PolicyPath), "/")
		r.Action = strings.TrimSpace(r.Action)
		if r.PolicyPath == "" {
			continue
		}
		cleaned = append(cleaned, r)
	}
	return &SimulationBackend{rules: cleaned}
}

// ParseSimulationRules reads "path:action,path" form, e.g.
// "aegis/compliance:read,aegis/agents/permissions".
func ParseSimulationRules(raw string) []SimulationRule {
	var rules []SimulationRule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rule := SimulationRule{PolicyPath: part}
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			rule.PolicyPath = part[:idx]
			rule.Action = strings.TrimSpace(part[idx+1:])
		}
		rules = append(rules, rule)
	}
	return rules
}

func (s *SimulationBackend) Available() bool { return true }

func (s *SimulationBackend) Close() error { return nil }

func (s *SimulationBackend) Evaluate(_ context.Context, req Request) (Response, error) {
	path := strings.Trim(strings.TrimSpace(req.PolicyPath), "/")
	action, _ := req.Input["action"].(string)
	allow := false
	for _, rule := range s.rules {
		if rule.PolicyPath != path {
			continue
		}
		if rule.Action == "" || rule.Action == action {
			allow = true
			break
		}
	}
	resp := Response{
		Allow:      allow,
		Decided:    true,
		DecisionID: uuid.NewString(),
		Result: map[string]interface{}{
			"allow": allow,
			"mode":  "simulation",
		},
		TraceID: req.EffectiveTraceID(),
	}
	if req.Explain {
		resp.Explanation = fmt.Sprintf("simulation: path=%q action=%q allow=%v", path, action, allow)
	}
	return resp, nil
}
