package iam

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixedGrant struct {
	grant *Grant
	err   error
}

func (f fixedGrant) Aggregate(context.Context, string, string) (*Grant, error) {
	return f.grant, f.err
}

func newTestIssuer(t *testing.T, src GrantSource, failClosed bool) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(src, IssuerConfig{
		Secret:                  testSecret,
		TTL:                     time.Hour,
		Issuer:                  "gridauth",
		FailClosedOnLookupError: failClosed,
	})
	require.NoError(t, err)
	return issuer
}

func testUser() *models.User {
	return &models.User{ID: "u1", TenantID: "t1", Email: "e1@x.com", EmailKey: "e1@x.com", UserType: models.UserTypeCRM}
}

func TestTokenIssuer_Issue(t *testing.T) {
	t.Parallel()

	src := fixedGrant{grant: &Grant{
		Roles:       []cache.RoleSummary{{ID: "r1", Code: "read-only", Name: "Read only"}},
		Permissions: []string{"CONTACT_READ", "contact:read", "Billing:Write"},
	}}
	issuer := newTestIssuer(t, src, false)

	issued, err := issuer.Issue(context.Background(), testUser())
	require.NoError(t, err)
	assert.False(t, issued.Degraded)
	assert.Equal(t, []string{"billing:write", "contact:read"}, issued.Claims.Permissions)

	// Raw claim shape
	parsed := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(issued.Token, parsed)
	require.NoError(t, err)
	for _, key := range []string{"sub", "tenantId", "id", "email", "userType", "roles", "permissions", "exp"} {
		assert.Contains(t, parsed, key)
	}
	assert.Equal(t, "u1", parsed["sub"])
	assert.Equal(t, "u1", parsed["id"])
	assert.Equal(t, "t1", parsed["tenantId"])
	assert.Equal(t, []any{map[string]any{"id": "r1", "code": "read-only", "name": "Read only"}}, parsed["roles"])

	claims, err := issuer.Verify(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"read-only"}, claims.RoleCodes())
	assert.Equal(t, issued.Claims.Permissions, claims.Permissions)
}

func TestTokenIssuer_MissingTenantIsFatal(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, fixedGrant{grant: &Grant{Roles: []cache.RoleSummary{}, Permissions: []string{}}}, false)

	user := testUser()
	user.TenantID = ""
	issued, err := issuer.Issue(context.Background(), user)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequiredClaim))
	assert.Nil(t, issued, "no signed output")

	user = testUser()
	user.ID = ""
	_, err = issuer.Issue(context.Background(), user)
	assert.True(t, errors.Is(err, ErrMissingRequiredClaim))

	_, err = issuer.Issue(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrMissingRequiredClaim))
}

func TestTokenIssuer_NonListGrantIsFatal(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t, fixedGrant{grant: &Grant{Permissions: []string{"a:b"}}}, false)
	_, err := issuer.Issue(context.Background(), testUser())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequiredClaim))
	assert.Contains(t, err.Error(), "roles")
}

func TestTokenIssuer_LookupFailure(t *testing.T) {
	t.Parallel()

	src := fixedGrant{err: errors.Join(ErrPermissionLookup, errStoreDown)}

	t.Run("degrades to an empty-privilege token", func(t *testing.T) {
		t.Parallel()
		issued, err := newTestIssuer(t, src, false).Issue(context.Background(), testUser())
		require.NoError(t, err)
		assert.True(t, issued.Degraded)
		assert.Equal(t, []cache.RoleSummary{}, issued.Claims.Roles)
		assert.Equal(t, []string{}, issued.Claims.Permissions)
	})

	t.Run("degraded path still enforces identity invariants", func(t *testing.T) {
		t.Parallel()
		user := testUser()
		user.TenantID = ""
		_, err := newTestIssuer(t, src, false).Issue(context.Background(), user)
		assert.True(t, errors.Is(err, ErrMissingRequiredClaim))
	})

	t.Run("fail closed", func(t *testing.T) {
		t.Parallel()
		_, err := newTestIssuer(t, src, true).Issue(context.Background(), testUser())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPermissionLookup))
	})
}

func TestTokenIssuer_Verify(t *testing.T) {
	t.Parallel()

	grant := fixedGrant{grant: &Grant{Roles: []cache.RoleSummary{}, Permissions: []string{}}}
	issuer := newTestIssuer(t, grant, false)
	issued, err := issuer.Issue(context.Background(), testUser())
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other, err := NewTokenIssuer(grant, IssuerConfig{Secret: []byte("another-secret-another-secret-xx"), Issuer: "gridauth"})
		require.NoError(t, err)
		_, err = other.Verify(issued.Token)
		assert.True(t, errors.Is(err, ErrInvalidSessionToken))
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		late := newTestIssuer(t, grant, false)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Verify(issued.Token)
		assert.True(t, errors.Is(err, ErrInvalidSessionToken))
	})

	t.Run("tampered", func(t *testing.T) {
		t.Parallel()
		parts := strings.Split(issued.Token, ".")
		_, err := issuer.Verify(parts[0] + "." + parts[1] + "x." + parts[2])
		assert.True(t, errors.Is(err, ErrInvalidSessionToken))
	})

	t.Run("missing tenant claim", func(t *testing.T) {
		t.Parallel()
		forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaims{
			UserID:      "u1",
			Roles:       []cache.RoleSummary{},
			Permissions: []string{},
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    "gridauth",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		token, err := forged.SignedString(testSecret)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.True(t, errors.Is(err, ErrInvalidSessionToken))
	})
}

func TestNewTokenIssuer_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewTokenIssuer(fixedGrant{}, IssuerConfig{})
	require.Error(t, err)
}
