package policy

import (
	"context"
	"strings"

	"aegis/pkg/acl"
)

// CheckCompliance asks whether an action on a resource complies with
// governance policy. Extra context fields merge into the input.
func CheckCompliance(ctx context.Context, adapter *acl.Adapter[Request, Response], action, resource string, extra map[string]interface{}) acl.Envelope[Response] {
	input := map[string]interface{}{
		"action":   strings.TrimSpace(action),
		"resource": strings.TrimSpace(resource),
	}
	for k, v := range extra {
		input[k] = v
	}
	return adapter.Call(ctx, Request{
		PolicyPath: "aegis/compliance",
		Input:      input,
	})
}

// CheckPermission asks whether an agent holds a permission, optionally
// scoped to a target.
func CheckPermission(ctx context.Context, adapter *acl.Adapter[Request, Response], agentID, permission, target string) acl.Envelope[Response] {
	input := map[string]interface{}{
		"agent_id":   strings.TrimSpace(agentID),
		"permission": strings.TrimSpace(permission),
		"action":     strings.TrimSpace(permission),
	}
	if target = strings.TrimSpace(target); target != "" {
		input["target"] = target
	}
	return adapter.Call(ctx, Request{
		PolicyPath: "aegis/agents/permissions",
		Input:      input,
	})
}

// EvaluateRoleSeparation checks the separation-of-duty rule for a role
// acting on another role. The explanation is always requested: a
// separation verdict without its reasoning is not auditable.
func EvaluateRoleSeparation(ctx context.Context, adapter *acl.Adapter[Request, Response], role, action, targetRole string) acl.Envelope[Response] {
	return adapter.Call(ctx, Request{
		PolicyPath: "aegis/roles/separation",
		Explain:    true,
		Input: map[string]interface{}{
			"role":        strings.TrimSpace(role),
			"action":      strings.TrimSpace(action),
			"target_role": strings.TrimSpace(targetRole),
		},
	})
}

// Allowed reports a definitive allow: the call succeeded, a verdict
// was produced, and the verdict is allow. Fallback denials count as
// not allowed by construction.
func Allowed(env acl.Envelope[Response]) bool {
	return env.Success && env.Data.Decided && env.Data.Allow
}
