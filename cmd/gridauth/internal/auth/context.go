package auth

import "context"

// Principal captures the verified session claims propagated through the request context.
type Principal struct {
	// UserID references users.id.
	UserID string
	// TenantID is the tenant the session was issued for.
	TenantID string
	// Email is the address recorded at login.
	Email string
	// UserType is the user category (crm or member).
	UserType string
	// Roles lists the role codes carried by the session.
	Roles []string
	// Permissions lists canonical resource:action permissions ("*" for super users).
	Permissions []string
}

type principalContextKey struct{}

// SetPrincipal stores the authenticated principal on the context for downstream consumers.
func SetPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

type correlationIDContextKey struct{}

// SetCorrelationID stores the request correlation id on the context.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey{}, id)
}

// CorrelationIDFromContext returns the request correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDContextKey{}).(string)
	return id
}
