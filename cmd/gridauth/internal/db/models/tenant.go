package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ConnectionType distinguishes enterprise directory logins from consumer
// self-service logins. It is part of every directory binding.
type ConnectionType string

const (
	// ConnectionTypeEnterprise is a staff-facing directory (e.g. Entra ID).
	// Resolution for this type never falls back to a default tenant.
	ConnectionTypeEnterprise ConnectionType = "enterprise"
	// ConnectionTypeConsumer is a self-service identity flow (e.g. a B2C user flow).
	ConnectionTypeConsumer ConnectionType = "consumer"
)

// Valid reports whether t is a known connection type.
func (t ConnectionType) Valid() bool {
	return t == ConnectionTypeEnterprise || t == ConnectionTypeConsumer
}

// Tenant status values
const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
)

// Tenant is the isolation boundary for one customer organization.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants,alias:t"`

	ID        string    `bun:"id,pk,type:uuid"`
	Code      string    `bun:"code,notnull,unique"`
	Name      string    `bun:"name,notnull"`
	Status    string    `bun:"status,notnull,default:'active'"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	Bindings []TenantAuthBinding `bun:"rel:has-many,join:id=tenant_id"`
}

// IsActive reports whether the tenant accepts logins.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantStatusActive
}

// TenantAuthBinding associates a tenant with one external directory.
// An active (connection_type, directory_id) pair belongs to at most one tenant.
type TenantAuthBinding struct {
	bun.BaseModel `bun:"table:tenant_auth_bindings,alias:tab"`

	ID             string         `bun:"id,pk,type:uuid"`
	TenantID       string         `bun:"tenant_id,notnull,type:uuid"`
	ConnectionType ConnectionType `bun:"connection_type,notnull"`
	DirectoryID    string         `bun:"directory_id,notnull"`
	IsActive       bool           `bun:"is_active,notnull,default:true"`
	CreatedAt      time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}
