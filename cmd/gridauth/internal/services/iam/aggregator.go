package iam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

// ErrPermissionLookup wraps store failures while loading roles or resolving
// permission references.
var ErrPermissionLookup = errors.New("permission lookup failed")

// Grant is a user's effective authorization inside one tenant.
type Grant struct {
	SuperUser   bool
	Roles       []cache.RoleSummary
	Permissions []string // raw codes, de-duplicated, not yet normalized
}

// Aggregator computes effective permissions from tenant-scoped role assignments.
type Aggregator struct {
	roles         repository.RoleRepository
	permissions   repository.PermissionRepository
	superUserRole string
}

// NewAggregator creates an aggregator. superUserRole is the reserved role
// code that grants the wildcard permission.
func NewAggregator(roles repository.RoleRepository, permissions repository.PermissionRepository, superUserRole string) *Aggregator {
	return &Aggregator{roles: roles, permissions: permissions, superUserRole: superUserRole}
}

// Aggregate loads the user's roles in tenantID and unions their permissions.
//
// A super-user role short-circuits: the result is ["*"] and no other role's
// permission entries are inspected.
func (a *Aggregator) Aggregate(ctx context.Context, userID, tenantID string) (*Grant, error) {
	roles, err := a.roles.ListForUser(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list roles: %w", ErrPermissionLookup, err)
	}

	grant := &Grant{
		Roles:       make([]cache.RoleSummary, 0, len(roles)),
		Permissions: []string{},
	}
	for _, r := range roles {
		grant.Roles = append(grant.Roles, cache.RoleSummary{ID: r.ID, Code: r.Code, Name: r.Name})
	}

	for _, r := range roles {
		if a.superUserRole != "" && r.Code == a.superUserRole {
			grant.SuperUser = true
			grant.Permissions = []string{auth.WildcardPermission}
			return grant, nil
		}
	}

	seen := make(map[string]struct{})
	add := func(code string) {
		if code == "" {
			return
		}
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		grant.Permissions = append(grant.Permissions, code)
	}

	var refIDs []string
	for _, r := range roles {
		for _, ref := range r.Permissions {
			switch ref.Kind {
			case models.PermissionRefInline:
				add(ref.Code)
			case models.PermissionRefReference:
				refIDs = append(refIDs, ref.ID)
			default:
				log.Printf("WARNING: role %s carries permission entry of unknown kind %q", r.Code, ref.Kind)
			}
		}
	}

	if len(refIDs) > 0 {
		catalog, err := a.permissions.GetByIDs(ctx, uniqueStrings(refIDs))
		if err != nil {
			return nil, fmt.Errorf("%w: resolve permission references: %w", ErrPermissionLookup, err)
		}
		resolved := make(map[string]string, len(catalog))
		for _, p := range catalog {
			resolved[p.ID] = p.Code
		}
		for _, id := range refIDs {
			code, ok := resolved[id]
			if !ok {
				log.Printf("WARNING: permission reference %s for user %s does not resolve, skipping", id, userID)
				continue
			}
			add(code)
		}
	}

	sort.Strings(grant.Permissions)
	return grant, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
