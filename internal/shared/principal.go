package shared

import "context"

type principalContextKey struct{}

// ContextWithUserID stores the authenticated user ID in context. Identity is
// established upstream; this package only carries it.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, principalContextKey{}, userID)
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(principalContextKey{}).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
