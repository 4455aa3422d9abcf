package server

import "context"

// Principal is the caller as asserted by the gateway in front of the PEP.
type Principal struct {
	TenantID string
	RoleSlug string
}

type tenantCtxKey struct{}

type principalContextKey struct{}

func withTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

func currentTenant(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantCtxKey{}).(string)
	return t, ok && t != ""
}

// TenantIDFromContext exposes the session tenant to controllers.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	return currentTenant(ctx)
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
