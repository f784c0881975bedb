package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260301000000, down_20260301000000)
}

// up_20260301000000 creates tenants, directory bindings, users, roles, the
// permission catalog, role assignments and refresh tokens.
func up_20260301000000(ctx context.Context, db *bun.DB) error {
	// 1. Tenants
	fmt.Print(" [up] creating tenants table...")
	if _, err := db.NewCreateTable().
		Model((*models.Tenant)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create tenants table: %w", err)
	}
	fmt.Println(" OK")

	// 2. Directory bindings
	fmt.Print(" [up] creating tenant_auth_bindings table...")
	if _, err := db.NewCreateTable().
		Model((*models.TenantAuthBinding)(nil)).
		IfNotExists().
		ForeignKey(`("tenant_id") REFERENCES "tenants" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create tenant_auth_bindings table: %w", err)
	}
	// An active (connection_type, directory_id) pair resolves to at most one tenant
	if _, err := db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_auth_bindings_active
		ON tenant_auth_bindings (connection_type, directory_id)
		WHERE is_active
	`); err != nil {
		return fmt.Errorf("failed to create active binding index: %w", err)
	}
	fmt.Println(" OK")

	// 3. Users
	fmt.Print(" [up] creating users table...")
	if _, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		ForeignKey(`("tenant_id") REFERENCES "tenants" ("id")`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	userIndexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_email ON users (tenant_id, email_key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_surrogate ON users (tenant_id, external_surrogate_id) WHERE external_surrogate_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_users_email_key ON users (email_key)`,
	}
	for _, stmt := range userIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create users index: %w", err)
		}
	}
	fmt.Println(" OK")

	// 4. Permission catalog
	fmt.Print(" [up] creating permissions table...")
	if _, err := db.NewCreateTable().
		Model((*models.Permission)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create permissions table: %w", err)
	}
	fmt.Println(" OK")

	// 5. Roles
	fmt.Print(" [up] creating roles table...")
	if _, err := db.NewCreateTable().
		Model((*models.Role)(nil)).
		IfNotExists().
		ForeignKey(`("tenant_id") REFERENCES "tenants" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create roles table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_tenant_code ON roles (tenant_id, code)`); err != nil {
		return fmt.Errorf("failed to create roles tenant/code index: %w", err)
	}
	fmt.Println(" OK")

	// 6. Role assignments
	fmt.Print(" [up] creating user_roles table...")
	if _, err := db.NewCreateTable().
		Model((*models.UserRole)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		ForeignKey(`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create user_roles table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_user_role ON user_roles (user_id, role_id)`); err != nil {
		return fmt.Errorf("failed to create user_roles index: %w", err)
	}
	fmt.Println(" OK")

	// 7. Refresh tokens
	fmt.Print(" [up] creating refresh_tokens table...")
	if _, err := db.NewCreateTable().
		Model((*models.RefreshToken)(nil)).
		IfNotExists().
		ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create refresh_tokens table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens (user_id)`); err != nil {
		return fmt.Errorf("failed to create refresh_tokens index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000000 drops the identity schema in dependency order
func down_20260301000000(ctx context.Context, db *bun.DB) error {
	tables := []struct {
		name  string
		model any
	}{
		{"refresh_tokens", (*models.RefreshToken)(nil)},
		{"user_roles", (*models.UserRole)(nil)},
		{"roles", (*models.Role)(nil)},
		{"permissions", (*models.Permission)(nil)},
		{"users", (*models.User)(nil)},
		{"tenant_auth_bindings", (*models.TenantAuthBinding)(nil)},
		{"tenants", (*models.Tenant)(nil)},
	}

	for _, tbl := range tables {
		fmt.Printf(" [down] dropping %s table...", tbl.name)
		if _, err := db.NewDropTable().Model(tbl.model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", tbl.name, err)
		}
		fmt.Println(" OK")
	}

	return nil
}
