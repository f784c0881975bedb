package cmdutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/migrations"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

var testRoles = config.RolesConfig{
	SuperUserRole:     "super-admin",
	DefaultCRMRole:    "read-only",
	DefaultMemberRole: "non-member",
}

func newTestStore(t *testing.T) (*Store, *models.Tenant) {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = migrations.Apply(context.Background(), db)
	require.NoError(t, err)

	store := NewStore(db)
	tenant := &models.Tenant{Code: "acme", Name: "Acme"}
	require.NoError(t, store.Tenants.Create(context.Background(), tenant))
	return store, tenant
}

func TestSeedSystemRoles(t *testing.T) {
	store, tenant := newTestStore(t)
	ctx := context.Background()

	created, err := SeedSystemRoles(ctx, store, tenant.ID, testRoles)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"super-admin", "read-only", "non-member"}, created)

	readOnly, err := store.Roles.GetByCode(ctx, tenant.ID, "read-only")
	require.NoError(t, err)
	assert.True(t, readOnly.IsSystemRole)
	require.Len(t, readOnly.Permissions, len(readOnlyPermissions))
	for _, ref := range readOnly.Permissions {
		assert.Equal(t, models.PermissionRefReference, ref.Kind)
	}

	member, err := store.Roles.GetByCode(ctx, tenant.ID, "non-member")
	require.NoError(t, err)
	assert.Equal(t, models.PermissionRefs{models.InlinePermission("profile:read")}, member.Permissions)

	// Second run is a no-op
	created, err = SeedSystemRoles(ctx, store, tenant.ID, testRoles)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestParsePermissionRefs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	catalog, err := store.Permissions.GetByCode(ctx, "user:read")
	require.NoError(t, err)

	refs, err := ParsePermissionRefs(ctx, store.Permissions, []string{"contact:read", "ref:" + catalog.ID})
	require.NoError(t, err)
	assert.Equal(t, models.PermissionRefs{
		models.InlinePermission("contact:read"),
		models.PermissionReference(catalog.ID),
	}, refs)

	_, err = ParsePermissionRefs(ctx, store.Permissions, []string{"ref:0192f0c4-0000-7000-8000-000000000000"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = ParsePermissionRefs(ctx, store.Permissions, []string{"ref:"})
	require.Error(t, err)
}

func TestResolveTenant(t *testing.T) {
	store, tenant := newTestStore(t)
	ctx := context.Background()

	byCode, err := store.ResolveTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, byCode.ID)

	byID, err := store.ResolveTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", byID.Code)

	_, err = store.ResolveTenant(ctx, "missing")
	require.Error(t, err)
}
