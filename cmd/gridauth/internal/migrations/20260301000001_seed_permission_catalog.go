package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260301000001, down_20260301000001)
}

// catalogSeed lists the permissions every deployment starts with.
// Codes are stored in canonical resource:action form.
var catalogSeed = []struct {
	resource, action, category string
	level                      int
}{
	{"profile", "read", "self", 0},
	{"user", "read", "identity", 1},
	{"user", "write", "identity", 2},
	{"role", "read", "authorization", 1},
	{"role", "write", "authorization", 3},
	{"tenant", "read", "tenancy", 1},
	{"tenant", "write", "tenancy", 3},
}

// up_20260301000001 seeds the permission catalog
func up_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding permission catalog...")

	perms := make([]models.Permission, 0, len(catalogSeed))
	for _, s := range catalogSeed {
		perms = append(perms, models.Permission{
			ID:       bunx.NewUUIDv7(),
			Code:     s.resource + ":" + s.action,
			Resource: s.resource,
			Action:   s.action,
			Category: s.category,
			Level:    s.level,
		})
	}

	if _, err := db.NewInsert().
		Model(&perms).
		On("CONFLICT (code) DO NOTHING").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to seed permission catalog: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000001 removes the seeded catalog entries
func down_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing seeded permission catalog...")

	codes := make([]string, 0, len(catalogSeed))
	for _, s := range catalogSeed {
		codes = append(codes, s.resource+":"+s.action)
	}

	if _, err := db.NewDelete().
		Model((*models.Permission)(nil)).
		Where("code IN (?)", bun.In(codes)).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove seeded permissions: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
