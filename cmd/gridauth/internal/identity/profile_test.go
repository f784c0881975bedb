package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

const testHeader = `{"alg":"RS256","typ":"JWT","kid":"k1"}`

func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func tokenWith(payload string) string {
	return segment(testHeader) + "." + segment(payload) + ".c2lnbmF0dXJl"
}

func TestNormalize_EnterpriseToken(t *testing.T) {
	t.Parallel()

	token := tokenWith(`{
		"sub": "sub-1",
		"oid": "oid-1",
		"tid": "dir-1",
		"iss": "https://login.microsoftonline.com/dir-1/v2.0",
		"aud": "client-1",
		"iat": 1767225600,
		"ver": "2.0",
		"given_name": "Eve",
		"family_name": "One",
		"preferred_username": "e1@x.com"
	}`)

	p, err := Normalize(token)
	require.NoError(t, err)

	assert.Equal(t, "sub-1", *p.Subject)
	assert.Equal(t, "oid-1", *p.ObjectID)
	assert.Equal(t, "dir-1", *p.DirectoryID)
	assert.Equal(t, []string{"client-1"}, p.Audience)
	assert.Equal(t, "2.0", *p.TokenVersion)
	assert.Equal(t, "Eve One", *p.FullName, "derived from given and family name")
	assert.Equal(t, "e1@x.com", *p.Email, "falls back to preferred_username")
	require.NotNil(t, p.IssuedAt)
	assert.Equal(t, int64(1767225600), p.IssuedAt.Unix())
	assert.Nil(t, p.Policy)
	assert.Nil(t, p.AuthTime)
	assert.Equal(t, models.ConnectionTypeEnterprise, p.ConnectionType())
	assert.Equal(t, models.UserTypeCRM, p.UserType())
}

func TestNormalize_ConsumerToken(t *testing.T) {
	t.Parallel()

	token := tokenWith(`{
		"sub": "sub-2",
		"tfp": "B2C_1A_signup_signin",
		"emails": ["m@x.com", "other@x.com"],
		"name": "Member Two",
		"auth_time": 1767225000,
		"aud": ["client-1", "client-2"],
		"extension_MemberNumber": "M-42",
		"extension_PhoneNumber": "+15550100",
		"ver": 1
	}`)

	p, err := Normalize(token)
	require.NoError(t, err)

	assert.Equal(t, "m@x.com", *p.Email)
	assert.Equal(t, "Member Two", *p.FullName)
	assert.Equal(t, "M-42", *p.MemberNumber)
	assert.Equal(t, "+15550100", *p.PhoneNumber)
	assert.Equal(t, "B2C_1A_signup_signin", *p.Policy)
	assert.Equal(t, "1", *p.TokenVersion)
	assert.Equal(t, []string{"client-1", "client-2"}, p.Audience)
	require.NotNil(t, p.AuthTime)
	assert.Equal(t, int64(1767225000), p.AuthTime.Unix())
	assert.Equal(t, models.ConnectionTypeConsumer, p.ConnectionType())
	assert.Equal(t, models.UserTypeMember, p.UserType())
}

func TestNormalize_MissingClaimsAreNull(t *testing.T) {
	t.Parallel()

	p, err := Normalize(tokenWith(`{"sub":"only-sub"}`))
	require.NoError(t, err)

	out, err := json.Marshal(p)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(out, &fields))

	for _, name := range []string{
		"givenName", "familyName", "fullName", "email", "phoneNumber", "memberNumber",
		"audience", "issuer", "issuedAt", "authTime", "tokenVersion", "policy",
		"directoryId", "objectId",
	} {
		v, present := fields[name]
		assert.True(t, present, "%s must be present", name)
		assert.Nil(t, v, "%s must be null", name)
	}
	assert.Equal(t, "only-sub", fields["subject"])
}

func TestNormalize_Deterministic(t *testing.T) {
	t.Parallel()

	token := tokenWith(`{"sub":"s","name":"N","acr":"b2c_1_susi","email":"a@b.c"}`)
	a, err := Normalize(token)
	require.NoError(t, err)
	b, err := Normalize(token)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "b2c_1_susi", *a.Policy, "acr names built-in user flows")
}

func TestNormalize_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two segments", segment(testHeader) + "." + segment(`{"sub":"x"}`)},
		{"payload not base64", segment(testHeader) + ".%%%." + "sig"},
		{"payload not json", segment(testHeader) + "." + segment("not json") + ".sig"},
		{"claim has wrong shape", tokenWith(`{"sub":{"nested":true}}`)},
		{"claims are not an object", tokenWith(`["sub"]`)},
		{"null claims", tokenWith(`null`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedIdentityToken), "got %v", err)
		})
	}
}

func TestNormalize_IgnoresHeaderAlgorithm(t *testing.T) {
	t.Parallel()

	payload := segment(`{"sub":"s1","oid":"o1","tid":"D1","email":"e1@x.com"}`)
	tests := []struct {
		name   string
		header string
	}{
		{"unregistered alg", `{"alg":"ES256K","typ":"JWT"}`},
		{"no alg", `{"typ":"JWT"}`},
		{"header not json", "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := Normalize(segment(tt.header) + "." + payload + ".sig")
			require.NoError(t, err)
			require.NotNil(t, p.Email)
			assert.Equal(t, "e1@x.com", *p.Email)
			require.NotNil(t, p.ObjectID)
			assert.Equal(t, "o1", *p.ObjectID)
		})
	}
}

func TestNormalize_PaddedClaimSegment(t *testing.T) {
	t.Parallel()

	payload := base64.URLEncoding.EncodeToString([]byte(`{"email":"a@x.com"}`))
	require.True(t, len(payload) > 0 && payload[len(payload)-1] == '=')

	p, err := Normalize(segment(testHeader) + "." + payload + ".sig")
	require.NoError(t, err)
	require.NotNil(t, p.Email)
	assert.Equal(t, "a@x.com", *p.Email)
}

func TestProfile_StringClaim(t *testing.T) {
	t.Parallel()

	p, err := Normalize(tokenWith(`{"sub":"s","tenantId":"dir-9","blank":" ","num":3}`))
	require.NoError(t, err)

	v, ok := p.StringClaim("tenantId")
	assert.True(t, ok)
	assert.Equal(t, "dir-9", v)

	_, ok = p.StringClaim("blank")
	assert.False(t, ok)
	_, ok = p.StringClaim("num")
	assert.False(t, ok)
	_, ok = p.StringClaim("")
	assert.False(t, ok)
}
