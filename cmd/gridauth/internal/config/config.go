package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable (GRID_DATABASE_URL, GRID_IDP_ISSUER, ...).
const EnvPrefix = "GRID"

// EnvironmentProduction disables stack traces in error responses.
const EnvironmentProduction = "production"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Maximum database connection pool size
	MaxDBConnections int

	// Deployment environment (development, staging, production)
	Environment string

	// Enable debug logging
	Debug bool

	// External identity provider used for the authorization-code exchange
	IdP IdPConfig

	// Directory claim extraction and default-tenant fallback
	Tenancy TenancyConfig

	// Session token issuance policy
	Session SessionConfig

	// Role defaults applied during user reconciliation
	Roles RolesConfig

	// Current-identity read cache
	Cache CacheConfig

	// Domain event publishing
	Events EventsConfig

	// Rate limiting for the /auth endpoints
	RateLimit RateLimitConfig

	// OpenTelemetry export settings
	Observability ObservabilityConfig
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// IdPConfig holds configuration for the external identity provider (Entra ID, B2C, Keycloak, ...).
//
// Two shapes are supported:
//   - Issuer set: OIDC discovery is performed and id tokens are verified during the exchange
//   - TokenURL set without Issuer: plain OAuth2 exchange against the token endpoint
type IdPConfig struct {
	Issuer          string        // IdP issuer URL used for discovery
	TokenURL        string        // Token endpoint when discovery is not available
	ClientID        string        // Client ID registered with the IdP
	ClientSecret    string        // Client secret registered with the IdP
	RedirectURI     string        // Redirect URI the authorization code was issued for
	Scopes          []string      // Scopes requested during exchange
	ExchangeTimeout time.Duration // Upper bound for the token endpoint round trip
}

// Enabled reports whether an IdP has been configured.
func (c IdPConfig) Enabled() bool {
	return c.Issuer != "" || c.TokenURL != ""
}

// TenancyConfig controls how an id token is mapped to a tenant.
type TenancyConfig struct {
	DirectoryClaim         string // Primary claim carrying the directory id (default "tid")
	DirectoryFallbackClaim string // Fallback claim (default "tenantId")

	// Default tenant for consumer self-service logins. Enterprise directory
	// logins never fall back to it.
	DefaultTenantID   string
	DefaultTenantCode string
}

// SessionConfig controls session token signing and lifetimes.
type SessionConfig struct {
	Secret          string
	TTL             time.Duration
	RefreshTokenTTL time.Duration

	// When true a failed role/permission lookup aborts the login instead of
	// issuing an empty-privilege token.
	FailClosedOnLookupError bool
}

// RolesConfig names the reserved and default role codes.
type RolesConfig struct {
	SuperUserRole     string
	DefaultCRMRole    string
	DefaultMemberRole string

	// Emit user.updated on every login regardless of field changes.
	ForceUpdateEvents bool
}

// CacheConfig controls the current-identity cache.
type CacheConfig struct {
	TTL      time.Duration
	Size     int
	RedisURL string // Optional. When set the cache is shared through Redis.
}

// EventsConfig controls domain event publishing.
type EventsConfig struct {
	RedisURL    string // Optional. Defaults to Cache.RedisURL.
	RedisStream string // Stream name for XADD (empty disables the Redis sink)
	BufferSize  int
}

// RateLimitConfig configures per-client limits for the /auth endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ObservabilityConfig holds OpenTelemetry exporter settings.
type ObservabilityConfig struct {
	OTLPEndpoint   string
	OTLPProtocol   string
	OTLPInsecure   bool
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// setDefaults registers defaults on the global viper instance.
// Defaults also make AutomaticEnv pick up nested keys (idp.issuer -> GRID_IDP_ISSUER).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("server_addr", "localhost:8081")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("idp.issuer", "")
	v.SetDefault("idp.token_url", "")
	v.SetDefault("idp.client_id", "")
	v.SetDefault("idp.client_secret", "")
	v.SetDefault("idp.redirect_uri", "")
	v.SetDefault("idp.scopes", "openid,profile,email,offline_access")
	v.SetDefault("idp.exchange_timeout", "10s")

	v.SetDefault("tenancy.directory_claim", "tid")
	v.SetDefault("tenancy.directory_fallback_claim", "tenantId")
	v.SetDefault("tenancy.default_tenant_id", "")
	v.SetDefault("tenancy.default_tenant_code", "")

	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", "1h")
	v.SetDefault("session.refresh_token_ttl", "720h")
	v.SetDefault("session.fail_closed_on_lookup_error", false)

	v.SetDefault("roles.super_user", "super-admin")
	v.SetDefault("roles.default_crm", "read-only")
	v.SetDefault("roles.default_member", "non-member")
	v.SetDefault("roles.force_update_events", false)

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.size", 10000)
	v.SetDefault("cache.redis_url", "")

	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.redis_stream", "")
	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.protocol", "http/protobuf")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.service_name", "gridauth")
	v.SetDefault("otel.service_version", "dev")
}

// Load reads configuration from the global viper instance.
//
// Precedence (highest first): bound flags, GRID_* environment variables,
// config file (if the caller has set one), defaults.
func Load() (*Config, error) {
	v := viper.GetViper()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit Get() per key: Unmarshal/AllSettings does not see env-only nested keys.
	environment := v.GetString("environment")
	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		ServerAddr:       v.GetString("server_addr"),
		MaxDBConnections: v.GetInt("max_db_connections"),
		Environment:      environment,
		Debug:            v.GetBool("debug"),
		IdP: IdPConfig{
			Issuer:          v.GetString("idp.issuer"),
			TokenURL:        v.GetString("idp.token_url"),
			ClientID:        v.GetString("idp.client_id"),
			ClientSecret:    v.GetString("idp.client_secret"),
			RedirectURI:     v.GetString("idp.redirect_uri"),
			Scopes:          splitList(v.GetString("idp.scopes")),
			ExchangeTimeout: v.GetDuration("idp.exchange_timeout"),
		},
		Tenancy: TenancyConfig{
			DirectoryClaim:         v.GetString("tenancy.directory_claim"),
			DirectoryFallbackClaim: v.GetString("tenancy.directory_fallback_claim"),
			DefaultTenantID:        v.GetString("tenancy.default_tenant_id"),
			DefaultTenantCode:      v.GetString("tenancy.default_tenant_code"),
		},
		Session: SessionConfig{
			Secret:                  v.GetString("session.secret"),
			TTL:                     v.GetDuration("session.ttl"),
			RefreshTokenTTL:         v.GetDuration("session.refresh_token_ttl"),
			FailClosedOnLookupError: v.GetBool("session.fail_closed_on_lookup_error"),
		},
		Roles: RolesConfig{
			SuperUserRole:     v.GetString("roles.super_user"),
			DefaultCRMRole:    v.GetString("roles.default_crm"),
			DefaultMemberRole: v.GetString("roles.default_member"),
			ForceUpdateEvents: v.GetBool("roles.force_update_events"),
		},
		Cache: CacheConfig{
			TTL:      v.GetDuration("cache.ttl"),
			Size:     v.GetInt("cache.size"),
			RedisURL: v.GetString("cache.redis_url"),
		},
		Events: EventsConfig{
			RedisURL:    v.GetString("events.redis_url"),
			RedisStream: v.GetString("events.redis_stream"),
			BufferSize:  v.GetInt("events.buffer_size"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("rate_limit.requests_per_second"),
			Burst:             v.GetInt("rate_limit.burst"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   v.GetString("otel.endpoint"),
			OTLPProtocol:   v.GetString("otel.protocol"),
			OTLPInsecure:   v.GetBool("otel.insecure"),
			ServiceName:    v.GetString("otel.service_name"),
			ServiceVersion: v.GetString("otel.service_version"),
			Environment:    environment,
		},
	}

	if cfg.Events.RedisURL == "" {
		cfg.Events.RedisURL = cfg.Cache.RedisURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and cross-field rules.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (GRID_DATABASE_URL)")
	}

	if c.IdP.Enabled() {
		if c.IdP.ClientID == "" {
			return fmt.Errorf("GRID_IDP_CLIENT_ID is required when an external IdP is configured")
		}
		if c.IdP.RedirectURI == "" {
			return fmt.Errorf("GRID_IDP_REDIRECT_URI is required when an external IdP is configured")
		}
		if c.IdP.ExchangeTimeout <= 0 {
			return fmt.Errorf("GRID_IDP_EXCHANGE_TIMEOUT must be positive")
		}
	}

	if (c.Tenancy.DefaultTenantID == "") != (c.Tenancy.DefaultTenantCode == "") {
		return fmt.Errorf("GRID_TENANCY_DEFAULT_TENANT_ID and GRID_TENANCY_DEFAULT_TENANT_CODE must be set together")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("GRID_SESSION_TTL must be positive")
	}
	if c.Session.RefreshTokenTTL <= 0 {
		return fmt.Errorf("GRID_SESSION_REFRESH_TOKEN_TTL must be positive")
	}

	if c.Roles.SuperUserRole == "" {
		return fmt.Errorf("GRID_ROLES_SUPER_USER cannot be empty")
	}

	return nil
}

// ValidateForServe applies the rules that only matter for the HTTP server.
// Database and provisioning commands run without a signing secret or IdP.
func (c *Config) ValidateForServe() error {
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("GRID_SESSION_SECRET must be at least 32 bytes")
	}
	if !c.IdP.Enabled() {
		return fmt.Errorf("GRID_IDP_ISSUER or GRID_IDP_TOKEN_URL is required")
	}
	return nil
}

// splitList splits a comma or space separated value, dropping empty items
func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
