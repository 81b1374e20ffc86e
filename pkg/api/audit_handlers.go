package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/httputil"
)

const defaultAuditLimit = 100

// AuditStore is the searchable side of an audit log. *audit.DBLogger
// implements it.
type AuditStore interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
	Get(ctx context.Context, id int64) (*audit.AuditEvent, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*audit.AuditStats, error)
	Export(ctx context.Context, filter audit.SearchFilter, format audit.ExportFormat) ([]byte, error)
}

// AuditHandlers exposes the audit log. With a nil store every route answers
// with a configuration gap.
type AuditHandlers struct {
	store AuditStore
}

// NewAuditHandlers creates audit handlers.
func NewAuditHandlers(store AuditStore) *AuditHandlers {
	return &AuditHandlers{store: store}
}

// RegisterRoutes registers audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/search", h.search).Methods("GET")
	router.HandleFunc("/audit/events/{id}", h.getEvent).Methods("GET")
	router.HandleFunc("/audit/stats", h.stats).Methods("GET")
	router.HandleFunc("/audit/export", h.export).Methods("GET")
}

// SearchResponse is the body of the audit search endpoint.
type SearchResponse struct {
	Events []*audit.AuditEvent `json:"events"`
	Count  int                 `json:"count"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (h *AuditHandlers) ready(w http.ResponseWriter) bool {
	if h.store == nil {
		httputil.WriteAppError(w, apperr.ConfigurationGap("api.Audit", "searchable audit logger"))
		return false
	}
	return true
}

// search handles GET /audit/search
func (h *AuditHandlers) search(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, SearchResponse{
		Events: events,
		Count:  len(events),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *AuditHandlers) getEvent(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if event == nil {
		httputil.WriteAppError(w, apperr.NotFound("api.AuditEvent", "audit event %d", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

// stats handles GET /audit/stats?start_time=&end_time=
func (h *AuditHandlers) stats(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	start, err := parseTimeParam(r, "start_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	end, err := parseTimeParam(r, "end_time")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), start, end)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// export handles GET /audit/export?format=
func (h *AuditHandlers) export(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := audit.ExportFormat(httputil.ParseQueryString(r, "format", string(audit.ExportFormatJSON)))
	var contentType string
	switch format {
	case audit.ExportFormatJSON:
		contentType = "application/json"
	case audit.ExportFormatCSV:
		contentType = "text/csv"
	case audit.ExportFormatNDJSON:
		contentType = "application/x-ndjson"
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown export format %q", format))
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-logs.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// parseAuditFilter reads a search filter from the query string. Malformed
// values are rejected rather than ignored.
func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	query := r.URL.Query()
	filter := audit.SearchFilter{
		ResourceType: audit.ResourceType(query.Get("resource_type")),
		ResourceID:   query.Get("resource_id"),
		Ascending:    query.Get("order") == "asc",
	}

	var err error
	if filter.StartTime, err = parseTimeParam(r, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(r, "end_time"); err != nil {
		return filter, err
	}

	if query.Get("actor_id") != "" {
		actor, err := httputil.ParseQueryInt64(r, "actor_id", 0)
		if err != nil {
			return filter, err
		}
		filter.ActorID = &actor
	}
	if types := query.Get("event_types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
			}
		}
	}
	if s := query.Get("status"); s != "" {
		status := audit.EventStatus(s)
		filter.Status = &status
	}

	limit, err := httputil.ParseQueryInt64(r, "limit", defaultAuditLimit)
	if err != nil || limit <= 0 {
		return filter, fmt.Errorf("limit must be a positive integer")
	}
	offset, err := httputil.ParseQueryInt64(r, "offset", 0)
	if err != nil || offset < 0 {
		return filter, fmt.Errorf("offset must be a non-negative integer")
	}
	filter.Limit, filter.Offset = int(limit), int(offset)
	return filter, nil
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, fmt.Errorf("invalid RFC3339 time for %s: %s", key, str)
	}
	return &t, nil
}
