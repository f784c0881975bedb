package auth

// Permission constants for authorization checks.
// All values are canonical resource:action codes and match the seeded catalog.

// Self-service
const (
	// ProfileRead allows reading the caller's own identity
	ProfileRead = "profile:read"
)

// Identity administration
const (
	// UserRead allows listing users of the caller's tenant
	UserRead = "user:read"

	// UserWrite allows changing users of the caller's tenant
	UserWrite = "user:write"
)

// Role administration
const (
	// RoleRead allows listing roles and their grants
	RoleRead = "role:read"

	// RoleWrite allows creating roles, granting permissions and assigning roles
	RoleWrite = "role:write"
)

// Tenant administration
const (
	// TenantRead allows reading tenant metadata and bindings
	TenantRead = "tenant:read"

	// TenantWrite allows creating tenants and directory bindings
	TenantWrite = "tenant:write"
)
