package audit

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []*AuditEvent {
	actor := int64(9)
	return []*AuditEvent{
		{
			ID:           1,
			Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			EventType:    EventTypeStatusTransition,
			Status:       EventStatusSuccess,
			ActorID:      &actor,
			ResourceType: "proposal",
			ResourceID:   "12",
			Message:      "draft to submitted, with comma",
		},
		{
			ID:        2,
			Timestamp: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
			EventType: EventTypeAccessDenied,
			Status:    EventStatusDenied,
		},
	}
}

func TestExport_JSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatJSON)
	require.NoError(t, err)

	var decoded []*AuditEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 2)
}

func TestExport_NDJSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var event AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &event))
	assert.Equal(t, EventStatusDenied, event.Status)
}

func TestExport_CSV(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatCSV)
	require.NoError(t, err)

	out := string(data)
	assert.True(t, strings.HasPrefix(out, "ID,Timestamp,EventType,Status,ActorID"))
	assert.Contains(t, out, `1,2026-03-01T12:00:00Z,workflow.status_transition,success,9,proposal,12,,"draft to submitted, with comma",`)
	assert.Contains(t, out, "2,2026-03-01T12:05:00Z,authz.access_denied,denied,,,,,,")
}

func TestExport_UnknownFormatIsJSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormat("xml"))
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}
