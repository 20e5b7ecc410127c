package solver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Backend runs one SMT-LIB script to completion.
type Backend interface {
	Solve(ctx context.Context, script string, req Request) (Response, error)
	Available() bool
}

// Z3Exec shells out to a z3 binary. Construction never fails; an
// absent binary leaves the backend unavailable and the adapter
// degrades to unknown results.
type Z3Exec struct {
	binary   string
	resolved string
}

func NewZ3Exec(binary string) *Z3Exec {
	resolved, err := resolveBinary(binary)
	if err != nil {
		resolved = ""
	}
	return &Z3Exec{binary: binary, resolved: resolved}
}

func (z *Z3Exec) Available() bool { return z.resolved != "" }

func (z *Z3Exec) Solve(ctx context.Context, script string, req Request) (Response, error) {
	if z.resolved == "" {
		return Response{}, errors.New("z3 binary not found")
	}
	// #nosec G204 -- resolved is constrained to z3/z3.exe via resolveBinary.
	cmd := exec.CommandContext(ctx, z.resolved, "-in", "-smt2")
	cmd.Stdin = strings.NewReader(script)
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if err != nil {
		// z3 exits non-zero on some unknown results; trust parseable output.
		if parsed := parseOutput(string(out), req); parsed.Result != ResultUnknown || looksLikeSolverOutput(string(out)) {
			return parsed, nil
		}
		return Response{}, fmt.Errorf("z3 exec failed: %w", err)
	}
	return parseOutput(string(out), req), nil
}

func looksLikeSolverOutput(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		switch strings.TrimSpace(line) {
		case ResultSat, ResultUnsat, ResultUnknown:
			return true
		}
	}
	return false
}

func resolveBinary(raw string) (string, error) {
	bin := strings.TrimSpace(raw)
	if bin == "" {
		bin = "z3"
	}
	if strings.ContainsAny(bin, " \t\n\r") {
		return "", errors.New("invalid z3 binary path")
	}
	base := filepath.Base(bin)
	if base != "z3" && base != "z3.exe" {
		return "", fmt.Errorf("unsupported solver binary %q", base)
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("z3 binary not found: %w", err)
	}
	return resolved, nil
}

// elapsedStat formats a duration for the statistics map.
func elapsedStat(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000.0)
}
