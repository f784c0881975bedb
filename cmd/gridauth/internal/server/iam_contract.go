package server

import (
	"context"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/services/iam"
)

// iamService defines the exact IAM methods used by server handlers.
// Tests substitute a stub; production passes iam.Service.
type iamService interface {
	// Session issuance
	Authenticate(ctx context.Context, code, codeVerifier string) (*iam.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*iam.TokenPair, error)
	VerifySession(token string) (*iam.SessionClaims, error)

	// Read path
	CurrentIdentity(ctx context.Context, tenantID, userID string) (*cache.Identity, error)

	// Administration
	CreateRole(ctx context.Context, role *models.Role) error
	GrantPermission(ctx context.Context, tenantID, roleCode string, ref models.PermissionRef) error
	AssignRole(ctx context.Context, tenantID, userID, roleCode, assignedBy string) error
	RevokeRole(ctx context.Context, tenantID, userID, roleCode string) error

	PolicyVersion() uint64
}

// Compile-time proof that iam.Service satisfies the handler contract.
var _ iamService = (iam.Service)(nil)
