package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quorum/pkg/authz"
	"github.com/platinummonkey/quorum/pkg/governance"
	"github.com/platinummonkey/quorum/pkg/httputil"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

// WorkflowHandlers exposes workflow configuration and per-entity status.
type WorkflowHandlers struct {
	builder     *workflow.Builder
	governance  *governance.Service
	permissions *authz.PermissionResolver
}

// NewWorkflowHandlers creates workflow handlers.
func NewWorkflowHandlers(builder *workflow.Builder, svc *governance.Service, permissions *authz.PermissionResolver) *WorkflowHandlers {
	return &WorkflowHandlers{
		builder:     builder,
		governance:  svc,
		permissions: permissions,
	}
}

// RegisterRoutes registers workflow routes
func (h *WorkflowHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workflows", h.listScopes).Methods("GET")
	router.HandleFunc("/workflows/{scope}/statuses", h.listStatuses).Methods("GET")
	router.HandleFunc("/workflows/{scope}/transitions", h.listTransitions).Methods("GET")
	router.HandleFunc("/workflows/{scope}/entities/{id}/available", h.available).Methods("GET")
	router.HandleFunc("/workflows/{scope}/entities/{id}/history", h.history).Methods("GET")
}

// listScopes handles GET /workflows
func (h *WorkflowHandlers) listScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.builder.ListScopes(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, scopes)
}

// listStatuses handles GET /workflows/{scope}/statuses
func (h *WorkflowHandlers) listStatuses(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParsePathStringOrError(w, r, "scope")
	if !ok {
		return
	}
	statuses, err := h.builder.ListStatuses(r.Context(), scope)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statuses)
}

// listTransitions handles GET /workflows/{scope}/transitions
func (h *WorkflowHandlers) listTransitions(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParsePathStringOrError(w, r, "scope")
	if !ok {
		return
	}
	transitions, err := h.builder.ListTransitions(r.Context(), scope)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transitions)
}

// AvailableResponse is the body of the available transitions endpoint.
type AvailableResponse struct {
	EntityID    int64                          `json:"entity_id"`
	Status      string                         `json:"status"`
	Transitions []workflow.AvailableTransition `json:"transitions"`
}

// available handles GET /workflows/{scope}/entities/{id}/available?user=
func (h *WorkflowHandlers) available(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParsePathStringOrError(w, r, "scope")
	if !ok {
		return
	}
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, err := httputil.ParseQueryInt64(r, "user", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	// without a user only unguarded transitions are listed
	actor := authz.Actor{UserID: userID}
	if userID != 0 {
		actor.Permissions, err = h.permissions.PermissionsForUser(r.Context(), userID)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
	}

	status, transitions, err := h.governance.Available(r.Context(), actor, scope, entityID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AvailableResponse{
		EntityID:    entityID,
		Status:      status,
		Transitions: transitions,
	})
}

// history handles GET /workflows/{scope}/entities/{id}/history?limit=
func (h *WorkflowHandlers) history(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParsePathStringOrError(w, r, "scope")
	if !ok {
		return
	}
	entityID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt64(r, "limit", 50)
	if err != nil || limit <= 0 {
		httputil.WriteBadRequest(w, "limit must be a positive integer")
		return
	}

	events, err := h.governance.History(r.Context(), scope, entityID, int(limit))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
