package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

const defaultNamespace = "gridauth:identity"

// RedisCache shares identities between instances.
type RedisCache struct {
	client    goredis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisCache wraps an existing client. Entries expire after ttl.
func NewRedisCache(client goredis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, namespace: defaultNamespace, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(tenantID, userID string) string {
	return c.namespace + ":" + Key(tenantID, userID)
}

// Get returns the cached identity. A corrupt entry is deleted and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID, userID string) (*Identity, bool, error) {
	key := c.key(tenantID, userID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: redis get: %v", ErrCacheUnavailable, err)
	}

	var identity Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return nil, false, nil
	}
	return &identity, true, nil
}

// Set stores identity with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, identity *Identity) error {
	if identity == nil {
		return nil
	}
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := c.client.Set(ctx, c.key(identity.TenantID, identity.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Delete removes the entry.
func (c *RedisCache) Delete(ctx context.Context, tenantID, userID string) error {
	if err := c.client.Del(ctx, c.key(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", ErrCacheUnavailable, err)
	}
	return nil
}
