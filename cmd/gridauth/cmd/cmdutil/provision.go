package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

// readOnlyPermissions are granted to the default CRM role as catalog references.
var readOnlyPermissions = []string{auth.ProfileRead, auth.UserRead, auth.RoleRead, auth.TenantRead}

// SystemRoles builds the roles every new tenant starts with: the super-user
// role, the default CRM role and the default member role.
func SystemRoles(ctx context.Context, perms repository.PermissionRepository, tenantID string, roles config.RolesConfig) ([]models.Role, error) {
	refs := make(models.PermissionRefs, 0, len(readOnlyPermissions))
	for _, code := range readOnlyPermissions {
		p, err := perms.GetByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("look up catalog permission %s: %w", code, err)
		}
		refs = append(refs, models.PermissionReference(p.ID))
	}

	return []models.Role{
		{
			TenantID:     tenantID,
			Code:         roles.SuperUserRole,
			Name:         "Super administrator",
			Description:  "Unrestricted access inside the tenant",
			Permissions:  models.PermissionRefs{},
			IsSystemRole: true,
		},
		{
			TenantID:     tenantID,
			Code:         roles.DefaultCRMRole,
			Name:         "Read only",
			Description:  "Default role for directory staff",
			Permissions:  refs,
			IsSystemRole: true,
		},
		{
			TenantID:     tenantID,
			Code:         roles.DefaultMemberRole,
			Name:         "Non member",
			Description:  "Default role for self-service users",
			Permissions:  models.PermissionRefs{models.InlinePermission(auth.ProfileRead)},
			IsSystemRole: true,
		},
	}, nil
}

// SeedSystemRoles creates the system roles that do not exist yet in the tenant.
// It returns the codes it created.
func SeedSystemRoles(ctx context.Context, store *Store, tenantID string, roles config.RolesConfig) ([]string, error) {
	seeds, err := SystemRoles(ctx, store.Permissions, tenantID, roles)
	if err != nil {
		return nil, err
	}

	var created []string
	for i := range seeds {
		role := &seeds[i]
		_, err := store.Roles.GetByCode(ctx, tenantID, role.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return created, fmt.Errorf("check role %s: %w", role.Code, err)
		}
		if err := store.Roles.Create(ctx, role); err != nil {
			return created, fmt.Errorf("create system role %s: %w", role.Code, err)
		}
		log.Printf("INFO: created system role %s in tenant %s", role.Code, tenantID)
		created = append(created, role.Code)
	}
	return created, nil
}

// ParsePermissionRefs parses CLI permission notation and checks that every
// catalog reference resolves.
func ParsePermissionRefs(ctx context.Context, perms repository.PermissionRepository, inputs []string) (models.PermissionRefs, error) {
	refs := make(models.PermissionRefs, 0, len(inputs))
	var ids []string
	for _, in := range inputs {
		ref, err := models.ParsePermissionRef(in)
		if err != nil {
			return nil, fmt.Errorf("permission %q: %w", in, err)
		}
		if ref.Kind == models.PermissionRefReference {
			ids = append(ids, ref.ID)
		}
		refs = append(refs, ref)
	}
	if len(ids) == 0 {
		return refs, nil
	}

	found, err := perms.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve permission references: %w", err)
	}
	known := make(map[string]bool, len(found))
	for _, p := range found {
		known[p.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return nil, fmt.Errorf("permission reference %s: %w", id, repository.ErrNotFound)
		}
	}
	return refs, nil
}
