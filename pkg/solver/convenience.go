package solver

import (
	"context"
	"strings"

	"aegis/pkg/acl"
)

// CheckSatisfiability asks whether the formula, under the given
// assertions, has a satisfying assignment.
func CheckSatisfiability(ctx context.Context, adapter *acl.Adapter[Request, Response], req Request) acl.Envelope[Response] {
	return adapter.Call(ctx, req)
}

// ProveProperty establishes a property by refutation: the property is
// negated and asserted alongside the context; an unsat verdict means
// the property holds in every model of the context.
func ProveProperty(ctx context.Context, adapter *acl.Adapter[Request, Response], property string, contextAssertions []string, opts Request) acl.Envelope[Response] {
	req := Request{
		Formula:         negate(property),
		Assertions:      contextAssertions,
		TimeoutOverride: opts.TimeoutOverride,
		WantModel:       opts.WantModel,
		WantUnsatCore:   opts.WantUnsatCore,
		WantProof:       opts.WantProof,
		TraceID:         opts.TraceID,
	}
	return adapter.Call(ctx, req)
}

// Proved reports whether a ProveProperty envelope establishes the
// property. Only a definite unsat counts; unknown never proves.
func Proved(env acl.Envelope[Response]) bool {
	return env.Success && env.Data.Result == ResultUnsat
}

func negate(property string) string {
	property = strings.TrimSpace(property)
	return "(not " + property + ")"
}
