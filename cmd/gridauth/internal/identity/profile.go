// Package identity turns an IdP id token into a canonical Profile.
//
// The token signature is not checked here: verification happens during the
// IdP code exchange, and the normalizer only ever sees tokens returned by it.
package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

// ErrMalformedIdentityToken is returned when the claim segment cannot be decoded.
var ErrMalformedIdentityToken = errors.New("malformed identity token")

// Profile is the canonical view of an id token. Optional fields are nil when
// the claim is missing and serialize as JSON null.
type Profile struct {
	Subject      *string    `json:"subject"`
	GivenName    *string    `json:"givenName"`
	FamilyName   *string    `json:"familyName"`
	FullName     *string    `json:"fullName"`
	Email        *string    `json:"email"`
	PhoneNumber  *string    `json:"phoneNumber"`
	MemberNumber *string    `json:"memberNumber"`
	Audience     []string   `json:"audience"`
	Issuer       *string    `json:"issuer"`
	IssuedAt     *time.Time `json:"issuedAt"`
	AuthTime     *time.Time `json:"authTime"`
	TokenVersion *string    `json:"tokenVersion"`
	Policy       *string    `json:"policy"` // applied user flow, consumer logins only
	DirectoryID  *string    `json:"directoryId"`
	ObjectID     *string    `json:"objectId"`

	// Claims is the decoded claim map, kept for configurable claim lookups.
	Claims map[string]any `json:"-"`
}

// rawClaims lists the standard and Entra/B2C claims read from the token.
type rawClaims struct {
	Subject           string   `mapstructure:"sub"`
	GivenName         string   `mapstructure:"given_name"`
	FamilyName        string   `mapstructure:"family_name"`
	Name              string   `mapstructure:"name"`
	Email             string   `mapstructure:"email"`
	Emails            []string `mapstructure:"emails"`
	PreferredUsername string   `mapstructure:"preferred_username"`
	Version           string   `mapstructure:"ver"`
	TrustFrameworkPol string   `mapstructure:"tfp"`
	ACR               string   `mapstructure:"acr"`
	TenantID          string   `mapstructure:"tid"`
	ObjectID          string   `mapstructure:"oid"`
}

// Extension claims are tried in order; the first non-empty string wins.
var (
	phoneClaims        = []string{"phone_number", "extension_PhoneNumber", "mobilePhone"}
	memberNumberClaims = []string{"extension_MemberNumber", "member_number"}
)

// Normalize decodes the claim segment of idToken into a Profile.
func Normalize(idToken string) (*Profile, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedIdentityToken)
	}

	claims, err := DecodeClaims(idToken)
	if err != nil {
		return nil, err
	}

	var raw rawClaims
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return nil, fmt.Errorf("create claim decoder: %w", err)
	}
	if err := decoder.Decode(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIdentityToken, err)
	}

	p := &Profile{
		Subject:      optional(raw.Subject),
		GivenName:    optional(raw.GivenName),
		FamilyName:   optional(raw.FamilyName),
		PhoneNumber:  optional(firstString(claims, phoneClaims)),
		MemberNumber: optional(firstString(claims, memberNumberClaims)),
		TokenVersion: optional(raw.Version),
		DirectoryID:  optional(raw.TenantID),
		ObjectID:     optional(raw.ObjectID),
		Claims:       claims,
	}

	p.FullName = optional(raw.Name)
	if p.FullName == nil {
		p.FullName = optional(strings.TrimSpace(raw.GivenName + " " + raw.FamilyName))
	}

	p.Email = optional(raw.Email)
	if p.Email == nil && len(raw.Emails) > 0 {
		p.Email = optional(raw.Emails[0])
	}
	if p.Email == nil && strings.Contains(raw.PreferredUsername, "@") {
		p.Email = optional(raw.PreferredUsername)
	}

	// B2C names the user flow in tfp (custom policies) or acr (built-in flows)
	p.Policy = optional(raw.TrustFrameworkPol)
	if p.Policy == nil {
		p.Policy = optional(raw.ACR)
	}

	if aud, err := jwt.MapClaims(claims).GetAudience(); err == nil && len(aud) > 0 {
		p.Audience = []string(aud)
	}
	if iss, err := jwt.MapClaims(claims).GetIssuer(); err == nil {
		p.Issuer = optional(iss)
	}
	if iat, err := jwt.MapClaims(claims).GetIssuedAt(); err == nil && iat != nil {
		t := iat.UTC()
		p.IssuedAt = &t
	}
	p.AuthTime = numericTime(claims["auth_time"])

	return p, nil
}

// ConnectionType classifies the login. A user-flow claim marks a consumer login.
func (p *Profile) ConnectionType() models.ConnectionType {
	if p.Policy != nil {
		return models.ConnectionTypeConsumer
	}
	return models.ConnectionTypeEnterprise
}

// UserType maps the connection type to the user category.
func (p *Profile) UserType() string {
	if p.ConnectionType() == models.ConnectionTypeConsumer {
		return models.UserTypeMember
	}
	return models.UserTypeCRM
}

// StringClaim returns a non-empty string claim by name.
func (p *Profile) StringClaim(name string) (string, bool) {
	if p == nil || name == "" {
		return "", false
	}
	s, ok := p.Claims[name].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

// DecodeClaims reads the payload segment only. The header is not
// inspected, so any signing algorithm the IdP chooses is accepted.
func DecodeClaims(idToken string) (map[string]any, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedIdentityToken, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("%w: decode claim segment: %v", ErrMalformedIdentityToken, err)
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: parse claims: %v", ErrMalformedIdentityToken, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: empty claim set", ErrMalformedIdentityToken)
	}
	return claims, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstString(claims map[string]any, names []string) string {
	for _, name := range names {
		if s, ok := claims[name].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func numericTime(v any) *time.Time {
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case int64:
		secs = float64(n)
	default:
		return nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t
}
