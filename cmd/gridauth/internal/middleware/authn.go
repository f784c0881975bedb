package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/services/iam"
)

// SessionVerifier checks bearer session tokens. iam.Service implements it.
type SessionVerifier interface {
	VerifySession(token string) (*iam.SessionClaims, error)
}

// AuthnDependencies bundles collaborators required by the authentication middleware.
type AuthnDependencies struct {
	Verifier SessionVerifier
	Errors   apierror.Writer
}

// NewAuthnMiddleware requires a valid session token and stores the resulting
// principal on the request context.
func NewAuthnMiddleware(deps AuthnDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errors.New("authn middleware requires a session verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// STEP 1: Extract the bearer token
			token, ok := bearerToken(r)
			if !ok {
				deps.Errors.Write(w, r, apierror.ErrUnauthenticated)
				return
			}

			// STEP 2: Verify signature, expiry and identity claims
			claims, err := deps.Verifier.VerifySession(token)
			if err != nil {
				deps.Errors.Write(w, r, err)
				return
			}

			// STEP 3: Store principal for handlers and the authz gate
			ctx := auth.SetPrincipal(r.Context(), principalFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func principalFromClaims(claims *iam.SessionClaims) auth.Principal {
	return auth.Principal{
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		Email:       claims.Email,
		UserType:    claims.UserType,
		Roles:       claims.RoleCodes(),
		Permissions: claims.Permissions,
	}
}
