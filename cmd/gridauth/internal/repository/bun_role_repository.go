package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

// ========================================
// Role Repository
// ========================================

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db *bun.DB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db *bun.DB) *BunRoleRepository {
	return &BunRoleRepository{db: db}
}

// Create inserts a new role
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = bunx.NewUUIDv7()
	}
	if role.Permissions == nil {
		role.Permissions = models.PermissionRefs{}
	}
	for _, ref := range role.Permissions {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("create role %s: %w", role.Code, err)
		}
	}
	role.IsActive = true
	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now

	if _, err := r.db.NewInsert().Model(role).Exec(ctx); err != nil {
		if bunx.IsUniqueViolation(err) {
			return fmt.Errorf("role %s already exists in tenant %s", role.Code, role.TenantID)
		}
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// GetByCode retrieves a role by its code inside a tenant
func (r *BunRoleRepository) GetByCode(ctx context.Context, tenantID, code string) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().
		Model(role).
		Where("r.tenant_id = ?", tenantID).
		Where("r.code = ?", code).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("role %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get role by code: %w", err)
	}
	return role, nil
}

// ListByTenant retrieves all roles of a tenant
func (r *BunRoleRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Where("r.tenant_id = ?", tenantID).
		Order("r.code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// ListForUser retrieves the active roles assigned to a user inside a tenant.
// Both the assignment and the role must belong to tenantID.
func (r *BunRoleRepository) ListForUser(ctx context.Context, userID, tenantID string) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Join("JOIN user_roles AS ur ON ur.role_id = r.id").
		Where("ur.user_id = ?", userID).
		Where("ur.tenant_id = ?", tenantID).
		Where("r.tenant_id = ?", tenantID).
		Where("r.is_active = ?", true).
		Order("r.code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles for user: %w", err)
	}
	return roles, nil
}

// CountForUser counts the active roles assigned to a user inside a tenant
func (r *BunRoleRepository) CountForUser(ctx context.Context, userID, tenantID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Role)(nil)).
		Join("JOIN user_roles AS ur ON ur.role_id = r.id").
		Where("ur.user_id = ?", userID).
		Where("ur.tenant_id = ?", tenantID).
		Where("r.tenant_id = ?", tenantID).
		Where("r.is_active = ?", true).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count roles for user: %w", err)
	}
	return count, nil
}

// AddPermission appends a permission entry to a role.
// Runs in a transaction so concurrent grants do not overwrite each other.
func (r *BunRoleRepository) AddPermission(ctx context.Context, roleID string, ref models.PermissionRef) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("add permission: %w", err)
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		role := new(models.Role)
		q := tx.NewSelect().Model(role).Where("r.id = ?", roleID)
		if bunx.IsPostgres(tx) {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
			}
			return fmt.Errorf("load role: %w", err)
		}

		for _, existing := range role.Permissions {
			if existing == ref {
				return nil
			}
		}

		perms := append(role.Permissions, ref)
		_, err := tx.NewUpdate().
			Model((*models.Role)(nil)).
			Set("permissions = ?", perms).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", roleID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update role permissions: %w", err)
		}
		return nil
	})
}

// ========================================
// User Role Repository
// ========================================

// AssignToUser assigns a role to a user. Re-assigning is a no-op.
func (r *BunRoleRepository) AssignToUser(ctx context.Context, assignment *models.UserRole) (bool, error) {
	if assignment.ID == "" {
		assignment.ID = bunx.NewUUIDv7()
	}
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now()
	}

	res, err := r.db.NewInsert().
		Model(assignment).
		On("CONFLICT (user_id, role_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("assign role: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// RevokeFromUser removes a role assignment
func (r *BunRoleRepository) RevokeFromUser(ctx context.Context, userID, roleID string) error {
	res, err := r.db.NewDelete().
		Model((*models.UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("role assignment %s/%s: %w", userID, roleID, ErrNotFound)
	}
	return nil
}
