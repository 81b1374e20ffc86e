package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quorum/pkg/api"
	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/authz"
	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/governance"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/graph/graphtest"
	"github.com/platinummonkey/quorum/pkg/httputil"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

type fixture struct {
	store    *graph.Store
	audit    *audit.DBLogger
	router   *mux.Router
	user     int64
	proposal int64
	tor      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := graphtest.NewStore(t)
	b := workflow.NewBuilder(store)

	draft, err := b.CreateStatus(ctx, workflow.StatusInput{Scope: "proposal", Code: "draft", IsInitial: true})
	require.NoError(t, err)
	submitted, err := b.CreateStatus(ctx, workflow.StatusInput{Scope: "proposal", Code: "submitted", Order: 1})
	require.NoError(t, err)
	_, err = b.CreateTransition(ctx, workflow.TransitionInput{
		Scope: "proposal", FromStatusID: draft, ToStatusID: submitted,
		Label: "Submit", RequiredPermission: "proposals.submit",
	})
	require.NoError(t, err)
	_, err = b.CreateStatus(ctx, workflow.StatusInput{Scope: "meeting", Code: "scheduled"})
	require.NoError(t, err)

	resolver := authz.NewPermissionResolver(store)
	user := graphtest.MustEntity(t, store, graph.TypeUser, "alice")
	role := graphtest.MustEntity(t, store, graph.TypeRole, "member")
	perm := graphtest.MustEntity(t, store, graph.TypePermission, "proposals.submit")
	require.NoError(t, resolver.AssignRole(ctx, user, role))
	require.NoError(t, resolver.Grant(ctx, role, perm))

	tor := graphtest.MustEntity(t, store, "tor", "finance")
	chair := graphtest.MustEntity(t, store, graph.TypeTorFunction, "finance-chair")
	graphtest.MustProperty(t, store, chair, "can_edit", "true")
	graphtest.MustProperty(t, store, chair, "can_vote", "false")
	graphtest.MustRelate(t, store, graph.RelFillsPosition, user, chair)
	graphtest.MustRelate(t, store, graph.RelBelongsToTor, chair, tor)

	dbAudit, err := audit.NewDBLogger(ctx, store.DB(), database.SQLite)
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	router := mux.NewRouter()
	api.RegisterRoutes(router, store, dbAudit, logger)

	return &fixture{
		store:    store,
		audit:    dbAudit,
		router:   router,
		user:     user,
		proposal: graphtest.MustEntity(t, store, "proposal", "p-1"),
		tor:      tor,
	}
}

func (f *fixture) get(t *testing.T, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func TestRoutesRegistered(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/admin/workflows",
		"/admin/workflows/proposal/statuses",
		"/admin/workflows/proposal/transitions",
		"/admin/workflows/proposal/entities/1/available",
		"/admin/workflows/proposal/entities/1/history",
		"/admin/users/1/roles",
		"/admin/users/1/permissions",
		"/admin/users/1/capabilities",
		"/admin/audit/search",
		"/admin/audit/events/1",
		"/admin/audit/stats",
		"/admin/audit/export",
	} {
		req := httptest.NewRequest("GET", path, nil)
		var match mux.RouteMatch
		assert.True(t, f.router.Match(req, &match), path)
	}
}

func TestWorkflowConfiguration(t *testing.T) {
	f := newFixture(t)

	var scopes []workflow.Scope
	w := f.get(t, "/admin/workflows", &scopes)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []workflow.Scope{
		{Scope: "meeting", StatusCount: 1},
		{Scope: "proposal", StatusCount: 2, TransitionCount: 1},
	}, scopes)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

	var statuses []workflow.Status
	require.Equal(t, http.StatusOK, f.get(t, "/admin/workflows/proposal/statuses", &statuses).Code)
	require.Len(t, statuses, 2)
	assert.Equal(t, "draft", statuses[0].Code)

	var transitions []workflow.Transition
	require.Equal(t, http.StatusOK, f.get(t, "/admin/workflows/proposal/transitions", &transitions).Code)
	require.Len(t, transitions, 1)
	assert.Equal(t, "proposals.submit", transitions[0].RequiredPermission)
}

func TestAvailable(t *testing.T) {
	f := newFixture(t)

	var resp api.AvailableResponse
	w := f.get(t, fmt.Sprintf("/admin/workflows/proposal/entities/%d/available?user=%d", f.proposal, f.user), &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "draft", resp.Status)
	require.Len(t, resp.Transitions, 1)
	assert.Equal(t, "submitted", resp.Transitions[0].ToStatusCode)

	// anonymous callers only see unguarded transitions
	resp = api.AvailableResponse{}
	w = f.get(t, fmt.Sprintf("/admin/workflows/proposal/entities/%d/available", f.proposal), &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, resp.Transitions)
}

func TestAvailable_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		status int
		kind   string
	}{
		{"unknown entity", "/admin/workflows/proposal/entities/9999/available", http.StatusNotFound, "not_found"},
		{"no initial status", fmt.Sprintf("/admin/workflows/meeting/entities/%d/available", f.proposal), http.StatusServiceUnavailable, "configuration_gap"},
		{"bad id", "/admin/workflows/proposal/entities/abc/available", http.StatusBadRequest, ""},
		{"bad user", fmt.Sprintf("/admin/workflows/proposal/entities/%d/available?user=x", f.proposal), http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
			var body httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
		})
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := governance.NewService(f.store, governance.WithAuditLogger(f.audit))
	actor := authz.Actor{UserID: f.user, Permissions: authz.NewPermissions("proposals.submit")}
	_, err := svc.Transition(ctx, actor, "proposal", f.proposal, "submitted", "")
	require.NoError(t, err)

	var events []audit.AuditEvent
	w := f.get(t, fmt.Sprintf("/admin/workflows/proposal/entities/%d/history", f.proposal), &events)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeStatusTransition, events[0].EventType)
	assert.Equal(t, "submitted", events[0].Metadata["to"])

	assert.Equal(t, http.StatusBadRequest,
		f.get(t, fmt.Sprintf("/admin/workflows/proposal/entities/%d/history?limit=0", f.proposal), nil).Code)
}

func TestUserPermissionsAndRoles(t *testing.T) {
	f := newFixture(t)

	var perms api.CodesResponse
	require.Equal(t, http.StatusOK, f.get(t, fmt.Sprintf("/admin/users/%d/permissions", f.user), &perms).Code)
	assert.Equal(t, []string{"proposals.submit"}, perms.Codes)

	var roles []graph.Entity
	require.Equal(t, http.StatusOK, f.get(t, fmt.Sprintf("/admin/users/%d/roles", f.user), &roles).Code)
	require.Len(t, roles, 1)
	assert.Equal(t, "member", roles[0].Name)

	// a user with no roles has no permissions
	perms = api.CodesResponse{}
	require.Equal(t, http.StatusOK, f.get(t, "/admin/users/9999/permissions", &perms).Code)
	assert.Empty(t, perms.Codes)
}

func TestUserCapabilities(t *testing.T) {
	f := newFixture(t)

	var caps api.CodesResponse
	w := f.get(t, fmt.Sprintf("/admin/users/%d/capabilities?resource=%d", f.user, f.tor), &caps)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"can_edit"}, caps.Codes)

	// unknown relation type fails closed
	caps = api.CodesResponse{}
	w = f.get(t, fmt.Sprintf("/admin/users/%d/capabilities?resource=%d&belongs_to=belongs_to_nothing", f.user, f.tor), &caps)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, caps.Codes)

	assert.Equal(t, http.StatusBadRequest, f.get(t, fmt.Sprintf("/admin/users/%d/capabilities", f.user), nil).Code)
}

func (f *fixture) logEvents(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	grant := audit.NewEvent(f.user, audit.EventTypeRoleAssign, "user", f.user, nil)
	require.NoError(t, f.audit.Log(ctx, grant))
	denied := audit.NewEvent(f.user, audit.EventTypeAccessDenied, "proposal", f.proposal, map[string]interface{}{
		"required": "proposals.approve",
	})
	denied.Status = audit.EventStatusDenied
	require.NoError(t, f.audit.Log(ctx, denied))
	require.NoError(t, f.audit.Log(ctx, audit.NewEvent(42, audit.EventTypeSeedApply, "seed", 0, nil)))
}

func TestAuditSearch(t *testing.T) {
	f := newFixture(t)
	f.logEvents(t)

	var resp api.SearchResponse
	w := f.get(t, "/admin/audit/search", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, 100, resp.Limit)
	assert.Equal(t, audit.EventTypeSeedApply, resp.Events[0].EventType, "newest first")

	resp = api.SearchResponse{}
	w = f.get(t, fmt.Sprintf("/admin/audit/search?actor_id=%d&status=denied", f.user), &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "proposals.approve", resp.Events[0].Metadata["required"])

	resp = api.SearchResponse{}
	w = f.get(t, "/admin/audit/search?event_types=authz.role_assign,config.seed_apply&order=asc&limit=1&offset=1", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, audit.EventTypeSeedApply, resp.Events[0].EventType)

	for _, bad := range []string{"limit=0", "offset=-1", "actor_id=x", "start_time=yesterday"} {
		assert.Equal(t, http.StatusBadRequest, f.get(t, "/admin/audit/search?"+bad, nil).Code, bad)
	}
}

func TestAuditGetEvent(t *testing.T) {
	f := newFixture(t)
	f.logEvents(t)

	var resp api.SearchResponse
	require.Equal(t, http.StatusOK, f.get(t, "/admin/audit/search?limit=1", &resp).Code)
	require.Len(t, resp.Events, 1)

	var event audit.AuditEvent
	w := f.get(t, fmt.Sprintf("/admin/audit/events/%d", resp.Events[0].ID), &event)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.Events[0].EventType, event.EventType)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/admin/audit/events/99999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/admin/audit/events/abc", nil).Code)
}

func TestAuditStats(t *testing.T) {
	f := newFixture(t)
	f.logEvents(t)

	var stats audit.AuditStats
	w := f.get(t, "/admin/audit/stats", &stats)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.AccessDenials)
	assert.Equal(t, int64(2), stats.UniqueActors)
	assert.Equal(t, int64(1), stats.EventsByType[audit.EventTypeRoleAssign])

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/admin/audit/stats?end_time=soon", nil).Code)
}

func TestAuditExport(t *testing.T) {
	f := newFixture(t)
	f.logEvents(t)

	w := f.get(t, "/admin/audit/export?format=csv&status=denied", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "audit-logs.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2, "header plus one denial")
	assert.Contains(t, lines[1], string(audit.EventTypeAccessDenied))

	w = f.get(t, "/admin/audit/export?format=ndjson", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	assert.Len(t, strings.Split(strings.TrimSpace(w.Body.String()), "\n"), 3)

	var events []audit.AuditEvent
	w = f.get(t, "/admin/audit/export", &events)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, events, 3)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/admin/audit/export?format=xml", nil).Code)
}

func TestAuditRoutesWithoutSearchableLog(t *testing.T) {
	store := graphtest.NewStore(t)
	logger, _ := logtest.NewNullLogger()
	router := mux.NewRouter()
	api.RegisterRoutes(router, store, audit.NoOp(), logger)

	for _, path := range []string{
		"/admin/audit/search",
		"/admin/audit/events/1",
		"/admin/audit/stats",
		"/admin/audit/export",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
