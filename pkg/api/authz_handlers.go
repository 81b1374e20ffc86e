package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quorum/pkg/authz"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/httputil"
)

// AuthzHandlers exposes what the resolvers compute for a user.
type AuthzHandlers struct {
	permissions  *authz.PermissionResolver
	capabilities *authz.CapabilityResolver
}

// NewAuthzHandlers creates authorization handlers.
func NewAuthzHandlers(permissions *authz.PermissionResolver, capabilities *authz.CapabilityResolver) *AuthzHandlers {
	return &AuthzHandlers{
		permissions:  permissions,
		capabilities: capabilities,
	}
}

// RegisterRoutes registers authorization routes
func (h *AuthzHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users/{id}/roles", h.roles).Methods("GET")
	router.HandleFunc("/users/{id}/permissions", h.userPermissions).Methods("GET")
	router.HandleFunc("/users/{id}/capabilities", h.userCapabilities).Methods("GET")
}

// CodesResponse lists permission or capability codes.
type CodesResponse struct {
	UserID int64    `json:"user_id"`
	Codes  []string `json:"codes"`
}

// roles handles GET /users/{id}/roles
func (h *AuthzHandlers) roles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.permissions.RolesForUser(r.Context(), userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, roles)
}

// userPermissions handles GET /users/{id}/permissions
func (h *AuthzHandlers) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.permissions.PermissionsForUser(r.Context(), userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CodesResponse{UserID: userID, Codes: perms.Codes()})
}

// userCapabilities handles GET /users/{id}/capabilities?resource=&belongs_to=
func (h *AuthzHandlers) userCapabilities(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	resourceID, err := httputil.ParseQueryInt64(r, "resource", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if resourceID == 0 {
		httputil.WriteBadRequest(w, "resource is required")
		return
	}
	belongsTo := httputil.ParseQueryString(r, "belongs_to", graph.RelBelongsToTor)

	caps, err := h.capabilities.LoadResourceCapabilities(r.Context(), userID, resourceID, belongsTo)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CodesResponse{UserID: userID, Codes: caps.Codes()})
}
