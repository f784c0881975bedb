package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIdentity(tenantID, userID string) *Identity {
	name := "Eve One"
	return &Identity{
		UserID:        userID,
		TenantID:      tenantID,
		Email:         "e1@x.com",
		FullName:      &name,
		UserType:      "crm",
		Roles:         []RoleSummary{{ID: "r1", Code: "read-only", Name: "Read only"}},
		Permissions:   []string{"contact:read"},
		PolicyVersion: 3,
		CachedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	_, ok, err := c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, sampleIdentity("t1", "u1")))

	got, ok, err := c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.PolicyVersion)

	_, ok, _ = c.Get(ctx, "t2", "u1")
	assert.False(t, ok, "keys are tenant scoped")

	got.Permissions = nil
	again, _, _ := c.Get(ctx, "t1", "u1")
	assert.Equal(t, []string{"contact:read"}, again.Permissions, "mutating a result does not touch the entry's top-level fields")

	require.NoError(t, c.Delete(ctx, "t1", "u1"))
	_, ok, _ = c.Get(ctx, "t1", "u1")
	assert.False(t, ok)
}

func TestMemoryCache_EntriesDoNotAlias(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(10, time.Minute)

	stored := sampleIdentity("t1", "u1")
	require.NoError(t, c.Set(ctx, stored))

	// Writes through the caller's value after Set
	stored.Permissions[0] = "admin:*"
	stored.Roles[0].Code = "super-admin"

	got, ok, err := c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"contact:read"}, got.Permissions)
	assert.Equal(t, "read-only", got.Roles[0].Code)

	// Writes through a returned value
	got.Permissions[0] = "admin:*"
	got.Roles[0].Code = "super-admin"
	*got.FullName = "Mallory"
	got.Permissions = append(got.Permissions, "user:write")

	again, ok, err := c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"contact:read"}, again.Permissions)
	assert.Equal(t, []RoleSummary{{ID: "r1", Code: "read-only", Name: "Read only"}}, again.Roles)
	assert.Equal(t, "Eve One", *again.FullName)
}

func TestIdentity_Clone(t *testing.T) {
	t.Parallel()

	empty := (&Identity{UserID: "u1"}).Clone()
	assert.Nil(t, empty.Roles)
	assert.Nil(t, empty.Permissions)
	assert.Nil(t, empty.FullName)

	src := sampleIdentity("t1", "u1")
	assert.Equal(t, src, src.Clone())
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemoryCache(10, 20*time.Millisecond)

	require.NoError(t, c.Set(ctx, sampleIdentity("t1", "u1")))
	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "t1", "u1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func TestRedisCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute)

	_, ok, err := c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleIdentity("t1", "u1")
	require.NoError(t, c.Set(ctx, want))
	assert.True(t, s.Exists("gridauth:identity:t1/u1"))
	assert.Equal(t, time.Minute, s.TTL("gridauth:identity:t1/u1"))

	got, ok, err := c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Roles, got.Roles)
	assert.Equal(t, *want.FullName, *got.FullName)
	assert.True(t, want.CachedAt.Equal(got.CachedAt))

	s.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.False(t, ok, "entry expired")

	require.NoError(t, s.Set("gridauth:identity:t1/u2", "{not json"))
	_, ok, err = c.Get(ctx, "t1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Exists("gridauth:identity:t1/u2"), "corrupt entry removed")

	require.NoError(t, c.Set(ctx, want))
	require.NoError(t, c.Delete(ctx, "t1", "u1"))
	assert.False(t, s.Exists("gridauth:identity:t1/u1"))
}

func TestRedisCache_Unavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute)
	s.Close()

	_, _, err := c.Get(ctx, "t1", "u1")
	assert.True(t, errors.Is(err, ErrCacheUnavailable))
	assert.True(t, errors.Is(c.Set(ctx, sampleIdentity("t1", "u1")), ErrCacheUnavailable))
	assert.True(t, errors.Is(c.Delete(ctx, "t1", "u1"), ErrCacheUnavailable))
}

func TestNewRedisClient(t *testing.T) {
	t.Parallel()
	s := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), "redis://"+s.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = NewRedisClient(context.Background(), "not-a-url")
	require.Error(t, err)
}
