package rbac

import "context"

type decisionContextKey struct{}

// ContextWithDecision stores the allow decision that admitted a request.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext returns the decision stored by RequirePermission, so
// handlers can read the effective scope.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}
