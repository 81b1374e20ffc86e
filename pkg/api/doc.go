// Package api serves quorum's read-only admin endpoints on the ops router:
// workflow configuration, the transitions available to a user on a governed
// entity, transition history, a user's resolved permissions and
// capabilities, and the audit log.
//
// Nothing here writes to the graph. Callers that need to apply a transition
// use governance.Service directly.
//
//	GET /admin/workflows
//	GET /admin/workflows/{scope}/statuses
//	GET /admin/workflows/{scope}/transitions
//	GET /admin/workflows/{scope}/entities/{id}/available?user={userID}
//	GET /admin/workflows/{scope}/entities/{id}/history?limit={n}
//	GET /admin/users/{id}/roles
//	GET /admin/users/{id}/permissions
//	GET /admin/users/{id}/capabilities?resource={resourceID}&belongs_to={relation}
//	GET /admin/audit/search?event_types=&actor_id=&resource_type=&resource_id=&status=&start_time=&end_time=&limit=&offset=&order=
//	GET /admin/audit/events/{id}
//	GET /admin/audit/stats?start_time=&end_time=
//	GET /admin/audit/export?format={json|csv|ndjson}&...
//
// Errors are written with httputil.WriteAppError, so a missing entity is a
// 404 and an unconfigured scope is a 503.
package api
