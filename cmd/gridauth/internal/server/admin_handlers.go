package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

// Admin endpoints act inside the caller's own tenant.

type createRoleRequest struct {
	Code        string                 `json:"code"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Permissions []models.PermissionRef `json:"permissions"`
}

type assignRoleRequest struct {
	RoleCode string `json:"roleCode"`
}

type policyResponse struct {
	PolicyVersion uint64 `json:"policyVersion"`
}

type roleResponse struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenantId"`
	Code          string                 `json:"code"`
	Name          string                 `json:"name"`
	Permissions   []models.PermissionRef `json:"permissions"`
	PolicyVersion uint64                 `json:"policyVersion"`
}

// createRole handles POST /admin/roles.
func (h *handlers) createRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req createRoleRequest
	if err := h.validator.decode(r, schemaCreateRole, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	role := &models.Role{
		TenantID:    principal.TenantID,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Permissions: models.PermissionRefs(req.Permissions),
	}
	if err := h.iam.CreateRole(r.Context(), role); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, roleResponse{
		ID:            role.ID,
		TenantID:      role.TenantID,
		Code:          role.Code,
		Name:          role.Name,
		Permissions:   role.Permissions,
		PolicyVersion: h.iam.PolicyVersion(),
	})
}

// grantPermission handles POST /admin/roles/{code}/permissions.
// The body is one permission entry: {"kind":"inline","code":"contact:read"} or {"kind":"ref","id":"..."}.
func (h *handlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var ref models.PermissionRef
	if err := h.validator.decode(r, schemaGrantPermission, &ref); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	if err := h.iam.GrantPermission(r.Context(), principal.TenantID, chi.URLParam(r, "code"), ref); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{PolicyVersion: h.iam.PolicyVersion()})
}

// assignRole handles POST /admin/users/{id}/roles.
func (h *handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req assignRoleRequest
	if err := h.validator.decode(r, schemaAssignRole, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	err := h.iam.AssignRole(r.Context(), principal.TenantID, chi.URLParam(r, "id"), req.RoleCode, principal.UserID)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{PolicyVersion: h.iam.PolicyVersion()})
}

// revokeRole handles DELETE /admin/users/{id}/roles/{code}.
func (h *handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	err := h.iam.RevokeRole(r.Context(), principal.TenantID, chi.URLParam(r, "id"), chi.URLParam(r, "code"))
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{PolicyVersion: h.iam.PolicyVersion()})
}
