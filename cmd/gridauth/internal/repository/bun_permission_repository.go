package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPermissionRepository implements PermissionRepository using Bun ORM
type BunPermissionRepository struct {
	db *bun.DB
}

// NewBunPermissionRepository creates a new Bun-based permission catalog repository
func NewBunPermissionRepository(db *bun.DB) *BunPermissionRepository {
	return &BunPermissionRepository{db: db}
}

// Create inserts a catalog entry. Resource and action are derived from a
// resource:action code when not set.
func (r *BunPermissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	if permission.Code == "" {
		return fmt.Errorf("create permission: code is required")
	}
	if permission.ID == "" {
		permission.ID = bunx.NewUUIDv7()
	}
	if permission.Resource == "" || permission.Action == "" {
		resource, action, _ := strings.Cut(permission.Code, ":")
		if permission.Resource == "" {
			permission.Resource = resource
		}
		if permission.Action == "" {
			permission.Action = action
		}
	}
	permission.CreatedAt = time.Now()

	if _, err := r.db.NewInsert().Model(permission).Exec(ctx); err != nil {
		if bunx.IsUniqueViolation(err) {
			return fmt.Errorf("permission %s already exists", permission.Code)
		}
		return fmt.Errorf("create permission: %w", err)
	}
	return nil
}

// GetByCode retrieves a catalog entry by code
func (r *BunPermissionRepository) GetByCode(ctx context.Context, code string) (*models.Permission, error) {
	permission := new(models.Permission)
	err := r.db.NewSelect().
		Model(permission).
		Where("p.code = ?", code).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("permission %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get permission by code: %w", err)
	}
	return permission, nil
}

// GetByIDs resolves catalog references in one query
func (r *BunPermissionRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Permission, error) {
	if len(ids) == 0 {
		return []models.Permission{}, nil
	}

	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Where("p.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get permissions by IDs: %w", err)
	}
	return permissions, nil
}

// List retrieves the full catalog
func (r *BunPermissionRepository) List(ctx context.Context) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Order("p.code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return permissions, nil
}
