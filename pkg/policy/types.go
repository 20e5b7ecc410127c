package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Request carries one authorization query for the policy engine.
type Request struct {
	Input       map[string]interface{} `json:"input"`
	PolicyPath  string                 `json:"policy_path,omitempty"`
	Explain     bool                   `json:"explain,omitempty"`
	Pretty      bool                   `json:"pretty,omitempty"`
	WantMetrics bool                   `json:"want_metrics,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
}

// Response is the decision. Decided distinguishes a real deny from a
// response that never carried a verdict; validation requires it.
type Response struct {
	Allow       bool                   `json:"allow"`
	Decided     bool                   `json:"decided"`
	Result      map[string]interface{} `json:"result,omitempty"`
	DecisionID  string                 `json:"decision_id,omitempty"`
	Explanation interface{}            `json:"explanation,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
}

// EffectiveTraceID falls back to an input hash for log correlation.
func (r Request) EffectiveTraceID() string {
	if trimmed := strings.TrimSpace(r.TraceID); trimmed != "" {
		return trimmed
	}
	return hashRequest(r.PolicyPath, r.Input)[:16]
}

// hashRequest is stable: encoding/json sorts map keys.
func hashRequest(policyPath string, input map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(policyPath)))
	h.Write([]byte{0})
	encoded, _ := json.Marshal(input)
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}
