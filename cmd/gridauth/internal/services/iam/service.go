package iam

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

// ErrInvalidRefreshToken covers unknown, expired, revoked and reused refresh tokens.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// Service exposes the identity operations used by the HTTP handlers and the CLI.
type Service interface {
	// =========================================================================
	// Session issuance
	// =========================================================================

	// Authenticate redeems an authorization code and returns the reconciled
	// user with a signed session token and a fresh refresh token.
	//
	// Errors: auth.ErrIdPUnreachable, auth.ErrIdPRejected,
	// identity.ErrMalformedIdentityToken, tenancy.ErrTenantNotFound,
	// ErrMissingRequiredClaim.
	Authenticate(ctx context.Context, code, codeVerifier string) (*AuthResult, error)

	// Refresh rotates refreshToken and issues a new session token with
	// re-aggregated permissions. Presenting an already rotated token revokes
	// every refresh token of the user.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// VerifySession checks a bearer session token.
	VerifySession(token string) (*SessionClaims, error)

	// =========================================================================
	// Current identity (read path, cached)
	// =========================================================================

	// CurrentIdentity returns the user with effective roles and permissions.
	// Cache failures fall through to the store.
	CurrentIdentity(ctx context.Context, tenantID, userID string) (*cache.Identity, error)

	// =========================================================================
	// Administration (each call bumps the policy version)
	// =========================================================================

	CreateRole(ctx context.Context, role *models.Role) error
	GrantPermission(ctx context.Context, tenantID, roleCode string, ref models.PermissionRef) error
	AssignRole(ctx context.Context, tenantID, userID, roleCode, assignedBy string) error
	RevokeRole(ctx context.Context, tenantID, userID, roleCode string) error

	// PolicyVersion returns the current policy version.
	PolicyVersion() uint64
}

// AuthResult is returned by Authenticate.
type AuthResult struct {
	User                  *models.User
	AccessToken           string
	ExpiresAt             time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Claims                *SessionClaims
}

// TokenPair is returned by Refresh.
type TokenPair struct {
	AccessToken           string
	ExpiresAt             time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// TokenExchanger redeems authorization codes. *auth.IdPExchanger implements it.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*auth.ProviderTokens, error)
}

// TenantResolver maps a directory to a tenant. *tenancy.Resolver implements it.
type TenantResolver interface {
	Resolve(ctx context.Context, connectionType models.ConnectionType, directoryID string) (*models.Tenant, error)
}
