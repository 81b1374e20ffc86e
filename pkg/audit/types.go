package audit

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventType names the action being audited.
type EventType string

const (
	// Workflow events
	EventTypeStatusTransition EventType = "workflow.status_transition"
	EventTypeStatusCreate     EventType = "workflow.status_create"
	EventTypeStatusUpdate     EventType = "workflow.status_update"
	EventTypeStatusDelete     EventType = "workflow.status_delete"
	EventTypeTransitionCreate EventType = "workflow.transition_create"
	EventTypeTransitionUpdate EventType = "workflow.transition_update"
	EventTypeTransitionDelete EventType = "workflow.transition_delete"

	// Authorization events
	EventTypeRoleAssign       EventType = "authz.role_assign"
	EventTypeRoleRevoke       EventType = "authz.role_revoke"
	EventTypePermissionGrant  EventType = "authz.permission_grant"
	EventTypePermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAccessDenied     EventType = "authz.access_denied"

	// Configuration events
	EventTypeSeedApply EventType = "config.seed_apply"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType is the entity type of the audited target. Entity types are
// runtime strings, so any value is accepted.
type ResourceType string

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ActorID *int64 `json:"actor_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// NewEvent builds a successful event for an actor acting on one entity.
// details becomes the event metadata.
func NewEvent(actorID int64, action EventType, targetType string, targetID int64, details map[string]interface{}) *AuditEvent {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &AuditEvent{
		Timestamp:    time.Now().UTC(),
		EventType:    action,
		Status:       EventStatusSuccess,
		ActorID:      &actorID,
		ResourceType: ResourceType(targetType),
		ResourceID:   strconv.FormatInt(targetID, 10),
		Metadata:     details,
	}
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID    *int64
	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int

	// Ascending sorts oldest first; the default is newest first.
	Ascending bool
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// AuditStats summarises the audit log over a time range.
type AuditStats struct {
	TotalEvents    int64                 `json:"total_events"`
	EventsByType   map[EventType]int64   `json:"events_by_type"`
	EventsByStatus map[EventStatus]int64 `json:"events_by_status"`
	UniqueActors   int64                 `json:"unique_actors"`
	AccessDenials  int64                 `json:"access_denials"`
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
