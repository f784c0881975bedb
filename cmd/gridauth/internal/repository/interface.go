package repository

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateIdentity is returned by UserRepository.Upsert when the insert
	// lost a race to a concurrent writer for the same identity. The winning
	// row is committed; callers re-read it.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrUpsertContention is returned when the compare-and-swap path ran out of attempts.
	ErrUpsertContention = errors.New("user upsert contention")

	// ErrTokenAlreadyRotated is returned by Rotate when the presented token was
	// revoked or replaced between lookup and rotation.
	ErrTokenAlreadyRotated = errors.New("refresh token already rotated")
)

// TenantRepository exposes tenant and directory-binding persistence.
type TenantRepository interface {
	// FindByDirectoryBinding returns the active tenant holding an active
	// binding for (connectionType, directoryID), or ErrNotFound.
	FindByDirectoryBinding(ctx context.Context, connectionType models.ConnectionType, directoryID string) (*models.Tenant, error)
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByCode(ctx context.Context, code string) (*models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
	AddBinding(ctx context.Context, binding *models.TenantAuthBinding) error
	List(ctx context.Context) ([]models.Tenant, error)
}

// UserUpsert carries the reconciled identity written on every login.
type UserUpsert struct {
	TenantID              string
	Email                 string
	FullName              *string
	ExternalSubject       *string
	ExternalSurrogateID   *string
	AuthProvider          string
	UserType              string
	IDToken               *string
	IDTokenExpiresAt      *time.Time
	RefreshToken          *string
	RefreshTokenExpiresAt *time.Time
	LoginAt               time.Time
}

// UpsertResult describes what the upsert did. The Previous* fields are only
// meaningful when Inserted is false.
type UpsertResult struct {
	User             *models.User
	Inserted         bool
	PreviousTenantID string
	PreviousEmail    string
	PreviousFullName *string
}

// UserRepository exposes user persistence.
type UserRepository interface {
	// Upsert atomically matches by (email, tenant), then by (surrogate id,
	// tenant), then by email alone (migrating the record to in.TenantID),
	// and inserts otherwise.
	Upsert(ctx context.Context, in UserUpsert) (*UpsertResult, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
	GetBySurrogate(ctx context.Context, tenantID, surrogateID string) (*models.User, error)
	List(ctx context.Context, tenantID string) ([]models.User, error)
}

// RoleRepository exposes roles and user-role assignments.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByCode(ctx context.Context, tenantID, code string) (*models.Role, error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.Role, error)

	// ListForUser returns the active roles assigned to userID inside tenantID.
	// Assignments and roles from any other tenant are never returned.
	ListForUser(ctx context.Context, userID, tenantID string) ([]models.Role, error)
	CountForUser(ctx context.Context, userID, tenantID string) (int, error)

	// AddPermission appends ref to the role's permission entries unless already present.
	AddPermission(ctx context.Context, roleID string, ref models.PermissionRef) error

	// AssignToUser is idempotent. It reports whether a new assignment was written.
	AssignToUser(ctx context.Context, assignment *models.UserRole) (bool, error)
	RevokeFromUser(ctx context.Context, userID, roleID string) error
}

// PermissionRepository exposes the permission catalog.
type PermissionRepository interface {
	Create(ctx context.Context, permission *models.Permission) error
	GetByCode(ctx context.Context, code string) (*models.Permission, error)
	// GetByIDs returns the catalog entries for ids. Unknown ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]models.Permission, error)
	List(ctx context.Context) ([]models.Permission, error)
}

// RefreshTokenRepository exposes server-side refresh token handles.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	// Rotate revokes current and stores next in one transaction.
	Rotate(ctx context.Context, currentID string, next *models.RefreshToken) error
	// RevokeAllForUser revokes every live token of the user and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}
