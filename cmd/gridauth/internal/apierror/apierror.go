// Package apierror renders failures as the JSON error envelope returned by every endpoint:
//
//	{"message": "...", "code": "TENANT_NOT_FOUND", "status": 403, "correlationId": "..."}
//
// Outside production the envelope also carries the wrapped error chain and a stack trace.
package apierror

import (
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/services/iam"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/tenancy"
)

// Codes returned in the envelope.
const (
	CodeTenantNotFound         = "TENANT_NOT_FOUND"
	CodeMalformedIdentityToken = "MALFORMED_IDENTITY_TOKEN"
	CodeIdPUnreachable         = "IDP_UNREACHABLE"
	CodeIdPRejected            = "IDP_REJECTED"
	CodeMissingRequiredClaim   = "MISSING_REQUIRED_CLAIM"
	CodeInvalidRefreshToken    = "INVALID_REFRESH_TOKEN"
	CodeUnauthenticated        = "UNAUTHENTICATED"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeNotFound               = "NOT_FOUND"
	CodeRateLimited            = "RATE_LIMITED"
	CodeInternal               = "INTERNAL_ERROR"
)

var (
	// ErrUnauthenticated is returned when a protected route has no usable bearer token.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden is returned when the principal lacks the required permission.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when a client exceeds its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// InvalidRequestError reports a request body or parameter that failed validation.
type InvalidRequestError struct {
	Reason string
	Err    error
}

func (e *InvalidRequestError) Error() string {
	if e.Err != nil {
		return "invalid request: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid request: " + e.Reason
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// Invalid builds an InvalidRequestError.
func Invalid(reason string, err error) error {
	return &InvalidRequestError{Reason: reason, Err: err}
}

// Envelope is the wire shape of an error response.
type Envelope struct {
	Message       string   `json:"message"`
	Code          string   `json:"code"`
	Status        int      `json:"status"`
	CorrelationID string   `json:"correlationId"`
	Detail        string   `json:"detail,omitempty"`
	Stack         []string `json:"stack,omitempty"`
}

type mapping struct {
	target  error
	code    string
	status  int
	message string
}

// Order matters: the first match wins.
var mappings = []mapping{
	{tenancy.ErrTenantNotFound, CodeTenantNotFound, http.StatusForbidden, "no tenant is registered for this directory"},
	{identity.ErrMalformedIdentityToken, CodeMalformedIdentityToken, http.StatusUnauthorized, "the identity token could not be read"},
	{auth.ErrIdPUnreachable, CodeIdPUnreachable, http.StatusBadGateway, "the identity provider could not be reached"},
	{auth.ErrIdPRejected, CodeIdPRejected, http.StatusUnauthorized, "the identity provider rejected the authorization code"},
	{iam.ErrMissingRequiredClaim, CodeMissingRequiredClaim, http.StatusInternalServerError, "the session token could not be issued"},
	{iam.ErrInvalidRefreshToken, CodeInvalidRefreshToken, http.StatusUnauthorized, "the refresh token is invalid or expired"},
	{iam.ErrInvalidSessionToken, CodeUnauthenticated, http.StatusUnauthorized, "the session token is invalid or expired"},
	{iam.ErrPermissionLookup, CodeInternal, http.StatusInternalServerError, "permissions could not be loaded"},
	{ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized, "authentication required"},
	{ErrForbidden, CodeForbidden, http.StatusForbidden, "you do not have permission to perform this action"},
	{ErrRateLimited, CodeRateLimited, http.StatusTooManyRequests, "too many requests"},
	{repository.ErrNotFound, CodeNotFound, http.StatusNotFound, "resource not found"},
}

// Classify maps err to its envelope code, HTTP status and public message.
func Classify(err error) (code string, status int, message string) {
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) {
		return CodeInvalidRequest, http.StatusBadRequest, invalid.Reason
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.code, m.status, m.message
		}
	}
	return CodeInternal, http.StatusInternalServerError, "internal server error"
}

// Writer renders errors for one deployment environment.
type Writer struct {
	// Production hides Detail and Stack.
	Production bool
}

// Build returns the envelope for err without writing it.
func (wr Writer) Build(r *http.Request, err error) Envelope {
	code, status, message := Classify(err)
	env := Envelope{
		Message:       message,
		Code:          code,
		Status:        status,
		CorrelationID: auth.CorrelationIDFromContext(r.Context()),
	}
	if !wr.Production {
		env.Detail = err.Error()
		env.Stack = stackLines()
	}
	return env
}

// Write renders err as the envelope. 5xx errors are logged with the correlation id.
func (wr Writer) Write(w http.ResponseWriter, r *http.Request, err error) {
	env := wr.Build(r, err)
	if env.Status >= http.StatusInternalServerError {
		log.Printf("ERROR: %s %s failed (correlation_id=%s): %v", r.Method, r.URL.Path, env.CorrelationID, err)
	}

	body, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		http.Error(w, http.StatusText(env.Status), env.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Status)
	_, _ = w.Write(body)
}

// stackLines returns the goroutine stack, trimmed of blank lines.
func stackLines() []string {
	raw := strings.Split(string(debug.Stack()), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
