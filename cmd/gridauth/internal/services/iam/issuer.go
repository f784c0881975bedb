package iam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/bunx"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/telemetry"
)

var (
	// ErrMissingRequiredClaim is fatal: the token is never signed.
	ErrMissingRequiredClaim = errors.New("missing required claim")
	// ErrInvalidSessionToken is returned by Verify for any unusable token.
	ErrInvalidSessionToken = errors.New("invalid session token")
)

const tracerName = "gridauth/services/iam"

// SessionClaims is the signed session claim set.
//
// The user id appears twice: as sub and as id, which downstream services
// use to derive their user header.
type SessionClaims struct {
	TenantID    string              `json:"tenantId"`
	UserID      string              `json:"id"`
	Email       string              `json:"email"`
	UserType    string              `json:"userType"`
	Roles       []cache.RoleSummary `json:"roles"`
	Permissions []string            `json:"permissions"`
	jwt.RegisteredClaims
}

// RoleCodes returns the role codes carried by the claims.
func (c *SessionClaims) RoleCodes() []string {
	codes := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		codes = append(codes, r.Code)
	}
	return codes
}

// GrantSource computes a user's grant. *Aggregator implements it.
type GrantSource interface {
	Aggregate(ctx context.Context, userID, tenantID string) (*Grant, error)
}

// IssuerConfig configures token signing.
type IssuerConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string

	// FailClosedOnLookupError turns a failed grant lookup into an error
	// instead of a zero-privilege token.
	FailClosedOnLookupError bool
}

// IssuedToken is a signed session token with the claims it carries.
type IssuedToken struct {
	Token     string
	Claims    *SessionClaims
	ExpiresAt time.Time
	// Degraded is set when the grant lookup failed and empty grants were issued.
	Degraded bool
}

// TokenIssuer builds, checks and signs session claims.
type TokenIssuer struct {
	grants GrantSource
	cfg    IssuerConfig
	now    func() time.Time
}

// NewTokenIssuer creates an issuer.
func NewTokenIssuer(grants GrantSource, cfg IssuerConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("session signing secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &TokenIssuer{grants: grants, cfg: cfg, now: time.Now}, nil
}

// Issue signs a session token for user.
func (i *TokenIssuer) Issue(ctx context.Context, user *models.User) (*IssuedToken, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: no user record", ErrMissingRequiredClaim)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.IssueToken",
		attribute.String(telemetry.AttrUserID, user.ID),
		attribute.String(telemetry.AttrTenantID, user.TenantID),
	)
	defer span.End()

	// Step 1: effective grant
	degraded := false
	grant, err := i.grants.Aggregate(ctx, user.ID, user.TenantID)
	if err != nil {
		telemetry.PermissionLookupFailures.Inc()
		telemetry.RecordError(span, err)
		if i.cfg.FailClosedOnLookupError {
			return nil, fmt.Errorf("issue session token: %w", err)
		}
		log.Printf("ERROR: permission lookup for user %s failed, issuing empty-privilege token: %v", user.ID, err)
		grant = &Grant{Roles: []cache.RoleSummary{}, Permissions: []string{}}
		degraded = true
	}

	// Step 2: normalize once, here
	var permissions []string
	if grant.Permissions != nil {
		permissions = NormalizePermissions(grant.Permissions)
	}

	// Step 3: role projections
	roles := grant.Roles

	now := i.now().UTC()
	expiresAt := now.Add(i.cfg.TTL)
	claims := &SessionClaims{
		TenantID:    user.TenantID,
		UserID:      user.ID,
		Email:       user.Email,
		UserType:    user.UserType,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        bunx.NewUUIDv7(),
		},
	}

	// Step 4: invariants, fatal on every path
	if err := checkClaims(claims); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	// Step 5: sign
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	if degraded {
		telemetry.AddEvent(span, "token.degraded")
	}
	return &IssuedToken{Token: signed, Claims: claims, ExpiresAt: expiresAt, Degraded: degraded}, nil
}

// Verify parses a session token and re-checks its invariants.
func (i *TokenIssuer) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if err := checkClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	return claims, nil
}

func checkClaims(c *SessionClaims) error {
	switch {
	case c.UserID == "" || c.Subject == "":
		return fmt.Errorf("%w: user id", ErrMissingRequiredClaim)
	case c.TenantID == "":
		return fmt.Errorf("%w: tenant id", ErrMissingRequiredClaim)
	case c.Roles == nil:
		return fmt.Errorf("%w: roles must be a list", ErrMissingRequiredClaim)
	case c.Permissions == nil:
		return fmt.Errorf("%w: permissions must be a list", ErrMissingRequiredClaim)
	}
	return nil
}
