// Package cache holds resolved identities for the current-identity endpoint.
//
// Entries are keyed by tenant and user and carry the policy version they
// were computed under; readers discard entries from an older version.
package cache

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrCacheUnavailable wraps backend failures. Callers treat it as a miss.
var ErrCacheUnavailable = errors.New("identity cache unavailable")

// RoleSummary is the role shape embedded in identities and session tokens.
type RoleSummary struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Identity is a resolved user with its effective grants.
type Identity struct {
	UserID        string        `json:"userId"`
	TenantID      string        `json:"tenantId"`
	Email         string        `json:"email"`
	FullName      *string       `json:"fullName"`
	UserType      string        `json:"userType"`
	Roles         []RoleSummary `json:"roles"`
	Permissions   []string      `json:"permissions"`
	PolicyVersion uint64        `json:"policyVersion"`
	CachedAt      time.Time     `json:"cachedAt"`
}

// Clone returns a deep copy of id.
func (id *Identity) Clone() *Identity {
	out := *id
	out.Roles = slices.Clone(id.Roles)
	out.Permissions = slices.Clone(id.Permissions)
	if id.FullName != nil {
		name := *id.FullName
		out.FullName = &name
	}
	return &out
}

// IdentityCache stores identities by tenant and user.
type IdentityCache interface {
	Get(ctx context.Context, tenantID, userID string) (*Identity, bool, error)
	Set(ctx context.Context, identity *Identity) error
	Delete(ctx context.Context, tenantID, userID string) error
}

// Key builds the cache key for a tenant and user.
func Key(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// MemoryCache is a process-local LRU with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, Identity]
}

// NewMemoryCache creates a cache holding at most size entries for ttl each.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1000
	}
	return &MemoryCache{lru: expirable.NewLRU[string, Identity](size, nil, ttl)}
}

// Get returns a copy of the cached identity.
func (c *MemoryCache) Get(_ context.Context, tenantID, userID string) (*Identity, bool, error) {
	v, ok := c.lru.Get(Key(tenantID, userID))
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

// Set stores a copy of identity.
func (c *MemoryCache) Set(_ context.Context, identity *Identity) error {
	if identity == nil {
		return nil
	}
	c.lru.Add(Key(identity.TenantID, identity.UserID), *identity.Clone())
	return nil
}

// Delete removes the entry if present.
func (c *MemoryCache) Delete(_ context.Context, tenantID, userID string) error {
	c.lru.Remove(Key(tenantID, userID))
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
