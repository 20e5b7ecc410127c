package solver

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	ResultSat     = "sat"
	ResultUnsat   = "unsat"
	ResultUnknown = "unknown"
)

// Request carries one satisfiability query. Formula and Assertions are
// SMT-LIB terms; entries beginning with a declaration or definition
// form are passed through verbatim, everything else is asserted.
type Request struct {
	Formula         string        `json:"formula"`
	Assertions      []string      `json:"assertions,omitempty"`
	TimeoutOverride time.Duration `json:"timeout_override,omitempty"`
	WantModel       bool          `json:"want_model,omitempty"`
	WantProof       bool          `json:"want_proof,omitempty"`
	WantUnsatCore   bool          `json:"want_unsat_core,omitempty"`
	TraceID         string        `json:"trace_id,omitempty"`
}

type Response struct {
	Result     string            `json:"result"`
	Model      string            `json:"model,omitempty"`
	Proof      string            `json:"proof,omitempty"`
	UnsatCore  []string          `json:"unsat_core,omitempty"`
	Statistics map[string]string `json:"statistics,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
}

// EffectiveTraceID falls back to a formula hash so log correlation
// works without caller coordination.
func (r Request) EffectiveTraceID() string {
	if trimmed := strings.TrimSpace(r.TraceID); trimmed != "" {
		return trimmed
	}
	return hashInputs(r.Formula, r.Assertions)[:16]
}

func hashInputs(formula string, assertions []string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(formula)))
	for _, a := range assertions {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(a)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
