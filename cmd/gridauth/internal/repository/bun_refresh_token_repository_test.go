package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

func TestBunRefreshTokenRepository_Rotate(t *testing.T) {
	db := setupTestDB(t)
	tenants := NewBunTenantRepository(db)
	users := NewBunUserRepository(db)
	repo := NewBunRefreshTokenRepository(db)
	ctx := context.Background()

	t1 := seedTenant(t, tenants, "t1", models.ConnectionTypeEnterprise, "dir-1")
	res, err := users.Upsert(ctx, loginFor(t1.ID, "e1@x.com"))
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour)
	first := &models.RefreshToken{UserID: res.User.ID, TenantID: t1.ID, TokenHash: "hash-1", ExpiresAt: expires}
	require.NoError(t, repo.Create(ctx, first))

	got, err := repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, got.Usable(time.Now()))

	second := &models.RefreshToken{UserID: res.User.ID, TenantID: t1.ID, TokenHash: "hash-2", ExpiresAt: expires}
	require.NoError(t, repo.Rotate(ctx, first.ID, second))

	got, err = repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, got.Usable(time.Now()))
	require.NotNil(t, got.ReplacedBy)
	assert.Equal(t, second.ID, *got.ReplacedBy)

	// Rotating an already rotated token fails and stores nothing
	third := &models.RefreshToken{UserID: res.User.ID, TenantID: t1.ID, TokenHash: "hash-3", ExpiresAt: expires}
	err = repo.Rotate(ctx, first.ID, third)
	assert.True(t, errors.Is(err, ErrTokenAlreadyRotated))
	_, err = repo.GetByHash(ctx, "hash-3")
	assert.True(t, errors.Is(err, ErrNotFound))

	revoked, err := repo.RevokeAllForUser(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	got, err = repo.GetByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.False(t, got.Usable(time.Now()))
}
