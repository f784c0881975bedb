package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
)

// IdentitySource returns the current effective permissions of a user.
// iam.Service implements it.
type IdentitySource interface {
	CurrentIdentity(ctx context.Context, tenantID, userID string) (*cache.Identity, error)
}

// AuthzDependencies provides the collaborators needed for authorization decisions.
type AuthzDependencies struct {
	Checker *auth.PermissionChecker

	// Identities, when set, supplies the permissions checked instead of the
	// ones embedded in the session token, so grants and revocations apply
	// before the token is refreshed.
	Identities IdentitySource

	Errors apierror.Writer
}

// NewAuthzMiddleware returns a factory producing a gate for one required permission.
// It must run after the authn middleware.
func NewAuthzMiddleware(deps AuthzDependencies) (func(required string) func(http.Handler) http.Handler, error) {
	if deps.Checker == nil {
		return nil, errors.New("authz middleware requires a permission checker")
	}

	return func(required string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				principal, ok := auth.PrincipalFromContext(r.Context())
				if !ok || principal.UserID == "" {
					deps.Errors.Write(w, r, apierror.ErrUnauthenticated)
					return
				}

				permissions, err := deps.permissionsFor(r.Context(), principal)
				if err != nil {
					deps.Errors.Write(w, r, err)
					return
				}

				allowed, err := deps.Checker.Allowed(permissions, required)
				if err != nil {
					deps.Errors.Write(w, r, fmt.Errorf("authorize %s: %w", required, err))
					return
				}
				if !allowed {
					log.Printf("WARNING: denied %s for user %s in tenant %s (%s %s)",
						required, principal.UserID, principal.TenantID, r.Method, r.URL.Path)
					deps.Errors.Write(w, r, apierror.ErrForbidden)
					return
				}

				next.ServeHTTP(w, r)
			})
		}
	}, nil
}

func (d AuthzDependencies) permissionsFor(ctx context.Context, principal auth.Principal) ([]string, error) {
	if d.Identities == nil {
		return principal.Permissions, nil
	}
	current, err := d.Identities.CurrentIdentity(ctx, principal.TenantID, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("load current identity: %w", err)
	}
	return current.Permissions, nil
}
