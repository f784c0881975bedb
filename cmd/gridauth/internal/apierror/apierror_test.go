package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/tenancy"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"tenant not found", fmt.Errorf("resolve tenant: %w", tenancy.ErrTenantNotFound), CodeTenantNotFound, http.StatusForbidden},
		{"malformed token", fmt.Errorf("normalize: %w", identity.ErrMalformedIdentityToken), CodeMalformedIdentityToken, http.StatusUnauthorized},
		{"idp unreachable", fmt.Errorf("exchange: %w", auth.ErrIdPUnreachable), CodeIdPUnreachable, http.StatusBadGateway},
		{"idp rejected", fmt.Errorf("exchange: %w", auth.ErrIdPRejected), CodeIdPRejected, http.StatusUnauthorized},
		{"missing claim", fmt.Errorf("issue: %w", iam.ErrMissingRequiredClaim), CodeMissingRequiredClaim, http.StatusInternalServerError},
		{"refresh token", fmt.Errorf("%w: expired", iam.ErrInvalidRefreshToken), CodeInvalidRefreshToken, http.StatusUnauthorized},
		{"session token", fmt.Errorf("%w: bad signature", iam.ErrInvalidSessionToken), CodeUnauthenticated, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, CodeForbidden, http.StatusForbidden},
		{"rate limited", ErrRateLimited, CodeRateLimited, http.StatusTooManyRequests},
		{"not found", fmt.Errorf("load role: %w", repository.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{"invalid request", Invalid("code is required", nil), CodeInvalidRequest, http.StatusBadRequest},
		{"unknown", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, status, message := Classify(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, message)
		})
	}
}

func TestWriter_Write(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/auth/authenticate", nil)
	req = req.WithContext(auth.SetCorrelationID(req.Context(), "corr-1"))
	cause := fmt.Errorf("resolve tenant for directory dir-9: %w", tenancy.ErrTenantNotFound)

	t.Run("development includes detail and stack", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		Writer{}.Write(rec, req, cause)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, CodeTenantNotFound, env.Code)
		assert.Equal(t, http.StatusForbidden, env.Status)
		assert.Equal(t, "corr-1", env.CorrelationID)
		assert.Contains(t, env.Detail, "dir-9")
		assert.NotEmpty(t, env.Stack)
	})

	t.Run("production hides internals", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		Writer{Production: true}.Write(rec, req, cause)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		assert.ElementsMatch(t, []string{"message", "code", "status", "correlationId"}, keys(raw))
		assert.NotContains(t, rec.Body.String(), "dir-9")
	})
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
