package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"aegis/pkg/config"
	"aegis/pkg/httpx"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "check":
		return solverCheck(args[1:], out)
	case "prove":
		return solverProve(args[1:], out)
	case "compliance":
		return policyCompliance(args[1:], out)
	case "permission":
		return policyPermission(args[1:], out)
	case "role-separation":
		return roleSeparation(args[1:], out)
	case "health":
		return health(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "aclctl commands:")
	fmt.Fprintln(out, "  check --formula '(> x 1)' [--assert '(declare-const x Int)' ...] [--model]")
	fmt.Fprintln(out, "  prove --property '(=> p q)' [--assert ...] [--core]")
	fmt.Fprintln(out, "  compliance --action read --resource doc-1")
	fmt.Fprintln(out, "  permission --agent agent-7 --permission escrow.approve [--target escrow-12]")
	fmt.Fprintln(out, "  role-separation --role approver --action approve --target-role executor")
	fmt.Fprintln(out, "  health")
	fmt.Fprintln(out, "environment: AEGIS_GATEWAY_URL (default http://localhost:8086)")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }

func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func gatewayURL() string {
	return strings.TrimRight(config.Env("AEGIS_GATEWAY_URL", "http://localhost:8086"), "/")
}

func post(path string, payload interface{}, out io.Writer) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.EnvInt("AEGIS_CTL_TIMEOUT_SEC", 60))*time.Second)
	defer cancel()
	status, respBody, err := httpx.RequestJSON(ctx, nil, http.MethodPost, gatewayURL()+path, body, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return render(status, respBody, out)
}

func get(path string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, respBody, err := httpx.RequestJSON(ctx, nil, http.MethodGet, gatewayURL()+path, nil, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return render(status, respBody, out)
}

func render(status int, body []byte, out io.Writer) error {
	var pretty json.RawMessage = body
	var buf map[string]interface{}
	if json.Unmarshal(body, &buf) == nil {
		if encoded, err := json.MarshalIndent(buf, "", "  "); err == nil {
			pretty = encoded
		}
	}
	fmt.Fprintln(out, string(pretty))
	if status >= 400 {
		return fmt.Errorf("gateway status %d", status)
	}
	return nil
}

func solverCheck(args []string, out io.Writer) error {
	fs := newFlagSet("check")
	formula := fs.String("formula", "", "SMT-LIB formula to check")
	model := fs.Bool("model", false, "request a model when sat")
	var asserts repeatedFlag
	fs.Var(&asserts, "assert", "context assertion (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *formula == "" {
		return errors.New("formula required")
	}
	return post("/v1/solver/check", map[string]interface{}{
		"formula":    *formula,
		"assertions": []string(asserts),
		"want_model": *model,
	}, out)
}

func solverProve(args []string, out io.Writer) error {
	fs := newFlagSet("prove")
	property := fs.String("property", "", "property to prove")
	core := fs.Bool("core", false, "request an unsat core")
	var asserts repeatedFlag
	fs.Var(&asserts, "assert", "context assertion (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *property == "" {
		return errors.New("property required")
	}
	return post("/v1/solver/prove", map[string]interface{}{
		"property":        *property,
		"context":         []string(asserts),
		"want_unsat_core": *core,
	}, out)
}

func policyCompliance(args []string, out io.Writer) error {
	fs := newFlagSet("compliance")
	action := fs.String("action", "", "action to evaluate")
	resource := fs.String("resource", "", "target resource")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *action == "" || *resource == "" {
		return errors.New("action and resource required")
	}
	return post("/v1/policy/compliance", map[string]string{
		"action":   *action,
		"resource": *resource,
	}, out)
}

func policyPermission(args []string, out io.Writer) error {
	fs := newFlagSet("permission")
	agent := fs.String("agent", "", "agent id")
	permission := fs.String("permission", "", "permission name")
	target := fs.String("target", "", "optional target")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agent == "" || *permission == "" {
		return errors.New("agent and permission required")
	}
	return post("/v1/policy/permission", map[string]string{
		"agent_id":   *agent,
		"permission": *permission,
		"target":     *target,
	}, out)
}

func roleSeparation(args []string, out io.Writer) error {
	fs := newFlagSet("role-separation")
	role := fs.String("role", "", "acting role")
	action := fs.String("action", "", "action under evaluation")
	targetRole := fs.String("target-role", "", "conflicting role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *role == "" || *targetRole == "" {
		return errors.New("role and target-role required")
	}
	return post("/v1/policy/role-separation", map[string]string{
		"role":        *role,
		"action":      *action,
		"target_role": *targetRole,
	}, out)
}

func health(args []string, out io.Writer) error {
	fs := newFlagSet("health")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return get("/v1/adapters/health", out)
}
