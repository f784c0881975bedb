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

// BunTenantRepository implements TenantRepository using Bun ORM
type BunTenantRepository struct {
	db *bun.DB
}

// NewBunTenantRepository creates a new Bun-based tenant repository
func NewBunTenantRepository(db *bun.DB) *BunTenantRepository {
	return &BunTenantRepository{db: db}
}

// FindByDirectoryBinding resolves an active binding to its active tenant
func (r *BunTenantRepository) FindByDirectoryBinding(ctx context.Context, connectionType models.ConnectionType, directoryID string) (*models.Tenant, error) {
	tenant := new(models.Tenant)
	err := r.db.NewSelect().
		Model(tenant).
		Join("JOIN tenant_auth_bindings AS tab ON tab.tenant_id = t.id").
		Where("tab.connection_type = ?", connectionType).
		Where("tab.directory_id = ?", directoryID).
		Where("tab.is_active = ?", true).
		Where("t.status = ?", models.TenantStatusActive).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find tenant by directory binding: %w", err)
	}
	return tenant, nil
}

// GetByID retrieves a tenant with its bindings
func (r *BunTenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	tenant := new(models.Tenant)
	err := r.db.NewSelect().
		Model(tenant).
		Relation("Bindings").
		Where("t.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant by ID: %w", err)
	}
	return tenant, nil
}

// GetByCode retrieves a tenant by its unique code
func (r *BunTenantRepository) GetByCode(ctx context.Context, code string) (*models.Tenant, error) {
	tenant := new(models.Tenant)
	err := r.db.NewSelect().
		Model(tenant).
		Relation("Bindings").
		Where("t.code = ?", code).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenant %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant by code: %w", err)
	}
	return tenant, nil
}

// Create inserts a new tenant
func (r *BunTenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = bunx.NewUUIDv7()
	}
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusActive
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	if _, err := r.db.NewInsert().Model(tenant).Exec(ctx); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// AddBinding attaches a directory binding to a tenant
func (r *BunTenantRepository) AddBinding(ctx context.Context, binding *models.TenantAuthBinding) error {
	if !binding.ConnectionType.Valid() {
		return fmt.Errorf("add tenant binding: unknown connection type %q", binding.ConnectionType)
	}
	if binding.ID == "" {
		binding.ID = bunx.NewUUIDv7()
	}
	binding.IsActive = true
	binding.CreatedAt = time.Now()

	if _, err := r.db.NewInsert().Model(binding).Exec(ctx); err != nil {
		if bunx.IsUniqueViolation(err) {
			return fmt.Errorf("directory %s (%s) is already bound to a tenant", binding.DirectoryID, binding.ConnectionType)
		}
		return fmt.Errorf("add tenant binding: %w", err)
	}
	return nil
}

// List retrieves all tenants with their bindings
func (r *BunTenantRepository) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.NewSelect().
		Model(&tenants).
		Relation("Bindings").
		Order("t.code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}
