package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User categories. The category selects the default role on first login
// and is surfaced as the userType session claim.
const (
	UserTypeCRM    = "crm"    // staff-facing identities from enterprise directories
	UserTypeMember = "member" // self-service identities from consumer flows
)

// User is the single authoritative record for an external identity inside a tenant.
//
// EmailKey is the lowercased email and carries the (tenant_id, email_key)
// unique index; Email keeps the casing the IdP reported.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                    string     `bun:"id,pk,type:uuid"`
	TenantID              string     `bun:"tenant_id,notnull,type:uuid"`
	Email                 string     `bun:"email,notnull"`
	EmailKey              string     `bun:"email_key,notnull"`
	FullName              *string    `bun:"full_name"`
	ExternalSubject       *string    `bun:"external_subject"`
	ExternalSurrogateID   *string    `bun:"external_surrogate_id"` // IdP object id (oid)
	AuthProvider          string     `bun:"auth_provider,notnull"`
	UserType              string     `bun:"user_type,notnull"`
	IDToken               *string    `bun:"id_token,type:text"`
	IDTokenExpiresAt      *time.Time `bun:"id_token_expires_at"`
	RefreshToken          *string    `bun:"refresh_token,type:text"`
	RefreshTokenExpiresAt *time.Time `bun:"refresh_token_expires_at"`
	Version               int        `bun:"version,notnull,default:1"`
	CreatedAt             time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt           *time.Time `bun:"last_login_at"`
}

// EmailKey normalizes an email for uniqueness checks.
func EmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayName returns the full name or an empty string.
func (u *User) DisplayName() string {
	if u == nil || u.FullName == nil {
		return ""
	}
	return *u.FullName
}

// PermissionRefKind tags a PermissionRef.
type PermissionRefKind string

const (
	PermissionRefInline    PermissionRefKind = "inline"
	PermissionRefReference PermissionRefKind = "ref"
)

// PermissionRef is one permission entry on a role: either an inline
// permission code or a reference to a catalog Permission by id.
type PermissionRef struct {
	Kind PermissionRefKind `json:"kind"`
	Code string            `json:"code,omitempty"`
	ID   string            `json:"id,omitempty"`
}

// InlinePermission builds an inline permission entry.
func InlinePermission(code string) PermissionRef {
	return PermissionRef{Kind: PermissionRefInline, Code: code}
}

// PermissionReference builds a catalog reference entry.
func PermissionReference(id string) PermissionRef {
	return PermissionRef{Kind: PermissionRefReference, ID: id}
}

// ParsePermissionRef parses the CLI notation: "ref:<id>" or a plain code.
func ParsePermissionRef(s string) (PermissionRef, error) {
	s = strings.TrimSpace(s)
	if id, ok := strings.CutPrefix(s, "ref:"); ok {
		ref := PermissionReference(id)
		return ref, ref.Validate()
	}
	ref := InlinePermission(s)
	return ref, ref.Validate()
}

// Validate checks that the tag and payload agree.
func (p PermissionRef) Validate() error {
	switch p.Kind {
	case PermissionRefInline:
		if p.Code == "" {
			return fmt.Errorf("inline permission requires a code")
		}
	case PermissionRefReference:
		if p.ID == "" {
			return fmt.Errorf("permission reference requires an id")
		}
	default:
		return fmt.Errorf("unknown permission kind %q", p.Kind)
	}
	return nil
}

// String renders the entry in CLI notation.
func (p PermissionRef) String() string {
	if p.Kind == PermissionRefReference {
		return "ref:" + p.ID
	}
	return p.Code
}

// PermissionRefs is the JSON column holding a role's permission entries.
type PermissionRefs []PermissionRef

// Scan implements sql.Scanner for reading from database
func (pr *PermissionRefs) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*pr = PermissionRefs{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("failed to scan PermissionRefs: expected []byte or string, got %T", value)
	}
	if len(raw) == 0 {
		*pr = PermissionRefs{}
		return nil
	}
	return json.Unmarshal(raw, pr)
}

// Value implements driver.Valuer for writing to database
func (pr PermissionRefs) Value() (driver.Value, error) {
	if pr == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(pr)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Role groups permission entries inside one tenant. (tenant_id, code) is unique.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID           string         `bun:"id,pk,type:uuid"`
	TenantID     string         `bun:"tenant_id,notnull,type:uuid"`
	Code         string         `bun:"code,notnull"`
	Name         string         `bun:"name,notnull"`
	Description  string         `bun:"description"`
	Permissions  PermissionRefs `bun:"permissions,type:jsonb,notnull"`
	IsSystemRole bool           `bun:"is_system_role,notnull,default:false"`
	IsActive     bool           `bun:"is_active,notnull,default:true"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

// Permission is a catalog entry that roles may reference by id.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID        string    `bun:"id,pk,type:uuid"`
	Code      string    `bun:"code,notnull,unique"`
	Resource  string    `bun:"resource,notnull"`
	Action    string    `bun:"action,notnull"`
	Category  string    `bun:"category"`
	Level     int       `bun:"level,notnull,default:0"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// UserRole assigns a role to a user. Both rows must belong to TenantID.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	ID         string    `bun:"id,pk,type:uuid"`
	UserID     string    `bun:"user_id,notnull,type:uuid"`
	RoleID     string    `bun:"role_id,notnull,type:uuid"`
	TenantID   string    `bun:"tenant_id,notnull,type:uuid"`
	AssignedAt time.Time `bun:"assigned_at,notnull,default:current_timestamp"`
	AssignedBy *string   `bun:"assigned_by"` // nil for automatic default-role assignment
}

// RefreshToken is the server-side handle for an opaque refresh token.
// Only the SHA256 hash of the token is stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	ID         string     `bun:"id,pk,type:uuid"`
	UserID     string     `bun:"user_id,notnull,type:uuid"`
	TenantID   string     `bun:"tenant_id,notnull,type:uuid"`
	TokenHash  string     `bun:"token_hash,notnull,unique"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	RevokedAt  *time.Time `bun:"revoked_at"`
	ReplacedBy *string    `bun:"replaced_by"`
}

// Usable reports whether the token can still be exchanged at now.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
