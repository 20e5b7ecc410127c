package solver

import (
	"strconv"
	"strings"
)

// buildScript assembles the SMT-LIB program handed to the solver.
// Declaration and definition forms in the assertion list pass through
// verbatim; all other terms are wrapped in named assertions so an
// unsat core can refer back to them.
func buildScript(req Request) string {
	var b strings.Builder
	if req.WantUnsatCore {
		b.WriteString("(set-option :produce-unsat-cores true)\n")
	}
	if req.WantModel {
		b.WriteString("(set-option :produce-models true)\n")
	}
	if req.WantProof {
		b.WriteString("(set-option :produce-proofs true)\n")
	}
	label := 0
	writeTerm := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" {
			return
		}
		if isDirective(term) {
			b.WriteString(term)
			b.WriteString("\n")
			return
		}
		label++
		b.WriteString("(assert (! ")
		b.WriteString(term)
		b.WriteString(" :named a")
		b.WriteString(strconv.Itoa(label))
		b.WriteString("))\n")
	}
	for _, term := range req.Assertions {
		writeTerm(term)
	}
	writeTerm(req.Formula)
	b.WriteString("(check-sat)\n")
	if req.WantModel {
		b.WriteString("(get-model)\n")
	}
	if req.WantProof {
		b.WriteString("(get-proof)\n")
	}
	if req.WantUnsatCore {
		b.WriteString("(get-unsat-core)\n")
	}
	return b.String()
}

func isDirective(term string) bool {
	for _, prefix := range []string{"(declare-", "(define-", "(set-logic", "(set-option"} {
		if strings.HasPrefix(term, prefix) {
			return true
		}
	}
	return false
}

// parseOutput splits solver output into a status line and the trailing
// payload: model text after sat, unsat core and proof after unsat.
func parseOutput(out string, req Request) Response {
	resp := Response{Result: ResultUnknown}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	rest := []string{}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == ResultSat || trimmed == ResultUnsat || trimmed == ResultUnknown {
			resp.Result = trimmed
			rest = lines[i+1:]
			break
		}
	}
	payload := strings.TrimSpace(strings.Join(rest, "\n"))
	switch resp.Result {
	case ResultSat:
		if req.WantModel && payload != "" {
			resp.Model = payload
		}
	case ResultUnsat:
		if req.WantUnsatCore {
			core, remainder := splitCoreLine(payload)
			resp.UnsatCore = core
			payload = remainder
		}
		if req.WantProof && payload != "" {
			resp.Proof = payload
		}
	}
	return resp
}

// splitCoreLine reads the leading "(a1 a2 ...)" core list, returning
// the labels and whatever output follows.
func splitCoreLine(payload string) ([]string, string) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "(") {
		return nil, payload
	}
	end := strings.Index(payload, ")")
	if end < 0 {
		return nil, payload
	}
	inner := strings.TrimSpace(payload[1:end])
	remainder := strings.TrimSpace(payload[end+1:])
	if inner == "" {
		return nil, remainder
	}
	return strings.Fields(inner), remainder
}
