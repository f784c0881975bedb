package server

import (
	"log"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/cache"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/repository"
)

var errNotFound = repository.ErrNotFound

// handlers carries the collaborators shared by every endpoint.
type handlers struct {
	iam       iamService
	validator *requestValidator
	errors    apierror.Writer
}

type authenticateRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenantId"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName"`
	UserType string  `json:"userType"`
}

type tokenResponse struct {
	TokenType             string        `json:"tokenType"`
	AccessToken           string        `json:"accessToken"`
	ExpiresAt             time.Time     `json:"expiresAt"`
	RefreshToken          string        `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time     `json:"refreshTokenExpiresAt"`
	User                  *userResponse `json:"user,omitempty"`
}

type identityResponse struct {
	userResponse
	Roles         []cache.RoleSummary `json:"roles"`
	Permissions   []string            `json:"permissions"`
	PolicyVersion uint64              `json:"policyVersion"`
}

// authenticate handles POST /auth/authenticate.
// It redeems an authorization code and returns a session token pair.
func (h *handlers) authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := h.validator.decode(r, schemaAuthenticate, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	result, err := h.iam.Authenticate(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		TokenType:             "Bearer",
		AccessToken:           result.AccessToken,
		ExpiresAt:             result.ExpiresAt,
		RefreshToken:          result.RefreshToken,
		RefreshTokenExpiresAt: result.RefreshTokenExpiresAt,
		User:                  toUserResponse(result.User),
	})
}

// refresh handles POST /auth/refresh.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := h.validator.decode(r, schemaRefresh, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	pair, err := h.iam.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		TokenType:             "Bearer",
		AccessToken:           pair.AccessToken,
		ExpiresAt:             pair.ExpiresAt,
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	})
}

// me handles GET /api/auth/me with the caller's current roles and permissions.
func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.errors.Write(w, r, apierror.ErrUnauthenticated)
		return
	}

	current, err := h.iam.CurrentIdentity(r.Context(), principal.TenantID, principal.UserID)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, identityResponse{
		userResponse: userResponse{
			ID:       current.UserID,
			TenantID: current.TenantID,
			Email:    current.Email,
			FullName: current.FullName,
			UserType: current.UserType,
		},
		Roles:         current.Roles,
		Permissions:   current.Permissions,
		PolicyVersion: current.PolicyVersion,
	})
}

func toUserResponse(u *models.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:       u.ID,
		TenantID: u.TenantID,
		Email:    u.Email,
		FullName: u.FullName,
		UserType: u.UserType,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("ERROR: encode response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
