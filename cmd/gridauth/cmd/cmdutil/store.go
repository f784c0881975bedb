package cmdutil

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

// Store bundles the repositories used by provisioning commands with their
// DB connection.
//
// Provisioning writes straight to the store. A running server picks the
// change up when the affected identity cache entries expire.
type Store struct {
	DB          *bun.DB
	Tenants     repository.TenantRepository
	Users       repository.UserRepository
	Roles       repository.RoleRepository
	Permissions repository.PermissionRepository
}

// Close releases the underlying database connection.
func (s *Store) Close() {
	if s == nil || s.DB == nil {
		return
	}
	bunx.Close(s.DB)
}

// OpenStore connects to the configured database.
func OpenStore(cfg *config.Config) (*Store, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wraps an open connection.
func NewStore(db *bun.DB) *Store {
	return &Store{
		DB:          db,
		Tenants:     repository.NewBunTenantRepository(db),
		Users:       repository.NewBunUserRepository(db),
		Roles:       repository.NewBunRoleRepository(db),
		Permissions: repository.NewBunPermissionRepository(db),
	}
}

// ResolveTenant accepts a tenant id or code.
func (s *Store) ResolveTenant(ctx context.Context, idOrCode string) (*models.Tenant, error) {
	if tenant, err := s.Tenants.GetByCode(ctx, idOrCode); err == nil {
		return tenant, nil
	}
	tenant, err := s.Tenants.GetByID(ctx, idOrCode)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", idOrCode, err)
	}
	return tenant, nil
}
