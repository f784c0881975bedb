// Package tenancy maps an IdP directory to an internal tenant.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

// ErrTenantNotFound is returned when no active tenant owns the directory.
var ErrTenantNotFound = errors.New("tenant not found")

// issuerDirectoryPattern matches issuers of the form https://<host>/<directory-id>/v2.0
var issuerDirectoryPattern = regexp.MustCompile(`^https://[^/]+/([^/]+)/v2\.0/?$`)

// ClaimConfig names the claims that carry the directory id.
type ClaimConfig struct {
	Primary  string // default "tid"
	Fallback string // default "tenantId"
}

// DirectoryID extracts the directory id from the primary claim, the fallback
// claim, or the issuer URL, in that order.
func DirectoryID(profile *identity.Profile, cfg ClaimConfig) (string, error) {
	if profile == nil {
		return "", fmt.Errorf("%w: no identity profile", ErrTenantNotFound)
	}
	if cfg.Primary == "" {
		cfg.Primary = "tid"
	}
	if cfg.Fallback == "" {
		cfg.Fallback = "tenantId"
	}

	if id, ok := profile.StringClaim(cfg.Primary); ok {
		return id, nil
	}
	if id, ok := profile.StringClaim(cfg.Fallback); ok {
		return id, nil
	}
	if profile.Issuer != nil {
		if m := issuerDirectoryPattern.FindStringSubmatch(*profile.Issuer); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: token carries no directory id", ErrTenantNotFound)
}

// FallbackTenant is the configured tenant for consumer logins whose
// directory is not bound.
type FallbackTenant struct {
	ID   string
	Code string
	Name string
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// DefaultTenant applies to consumer logins only. Nil disables the fallback.
	DefaultTenant *FallbackTenant
}

// Resolver maps (connection type, directory id) to a tenant. It is read-only
// and safe for concurrent use.
type Resolver struct {
	tenants       repository.TenantRepository
	defaultTenant *FallbackTenant
}

// NewResolver creates a resolver over the tenant store.
func NewResolver(tenants repository.TenantRepository, cfg ResolverConfig) *Resolver {
	return &Resolver{tenants: tenants, defaultTenant: cfg.DefaultTenant}
}

// Resolve returns the active tenant bound to the directory.
//
// Enterprise logins fail closed: no match is ErrTenantNotFound and a store
// failure is returned as is. Consumer logins use the default tenant, when one
// is configured, for both cases.
func (r *Resolver) Resolve(ctx context.Context, connectionType models.ConnectionType, directoryID string) (*models.Tenant, error) {
	if !connectionType.Valid() {
		return nil, fmt.Errorf("%w: unknown connection type %q", ErrTenantNotFound, connectionType)
	}

	var tenant *models.Tenant
	var err error
	if directoryID != "" {
		tenant, err = r.tenants.FindByDirectoryBinding(ctx, connectionType, directoryID)
		if err == nil {
			return tenant, nil
		}
	} else {
		err = repository.ErrNotFound
	}

	if connectionType == models.ConnectionTypeConsumer && r.defaultTenant != nil {
		log.Printf("WARNING: consumer directory %q not resolved (%v), using default tenant %s", directoryID, err, r.defaultTenant.Code)
		return r.defaultTenant.tenant(), nil
	}

	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: no active %s binding for directory %q", ErrTenantNotFound, connectionType, directoryID)
	}
	return nil, fmt.Errorf("resolve tenant: %w", err)
}

func (f *FallbackTenant) tenant() *models.Tenant {
	name := f.Name
	if name == "" {
		name = f.Code
	}
	return &models.Tenant{
		ID:     f.ID,
		Code:   f.Code,
		Name:   name,
		Status: models.TenantStatusActive,
	}
}
