package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/quorum/pkg/database"
)

// DBLogger writes audit events to an audit_logs table in the graph
// database.
type DBLogger struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewDBLogger creates a database-backed audit logger and ensures its table
// exists.
func NewDBLogger(ctx context.Context, db *sql.DB, dialect database.Dialect) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &DBLogger{db: db, dialect: dialect}
	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable(ctx context.Context) error {
	id, jsonType, tsType := "BIGSERIAL PRIMARY KEY", "JSONB", "TIMESTAMP WITH TIME ZONE"
	if l.dialect == database.SQLite {
		id, jsonType, tsType = "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT", "TIMESTAMP"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_logs (
			id %s,
			timestamp %s NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			actor_id BIGINT,
			resource_type VARCHAR(100) NOT NULL DEFAULT '',
			resource_id VARCHAR(255) NOT NULL DEFAULT '',
			request_id VARCHAR(100) NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			metadata %s,
			changes %s
		)`, id, tsType, jsonType, jsonType),
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func marshalNullable(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Log inserts an audit event and sets event.ID.
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	stamp(ctx, event)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	metadata, err := marshalNullable(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := marshalNullable(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (
			timestamp, event_type, status, actor_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		event.Timestamp.UTC(), string(event.EventType), string(event.Status), event.ActorID,
		string(event.ResourceType), event.ResourceID, event.RequestID,
		event.Message, event.ErrorMessage, metadata, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// where builds the filter clause. Placeholders are numbered in the order
// they appear, which both drivers accept.
func (l *DBLogger) where(filter SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		clauses = append(clauses, "timestamp >= "+next(filter.StartTime.UTC()))
	}
	if filter.EndTime != nil {
		clauses = append(clauses, "timestamp <= "+next(filter.EndTime.UTC()))
	}
	if filter.ActorID != nil {
		clauses = append(clauses, "actor_id = "+next(*filter.ActorID))
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		if l.dialect == database.Postgres {
			clauses = append(clauses, "event_type = ANY("+next(pq.Array(types))+")")
		} else {
			placeholders := make([]string, len(types))
			for i, t := range types {
				placeholders[i] = next(t)
			}
			clauses = append(clauses, "event_type IN ("+strings.Join(placeholders, ", ")+")")
		}
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = "+next(string(*filter.Status)))
	}
	if filter.ResourceType != "" {
		clauses = append(clauses, "resource_type = "+next(string(filter.ResourceType)))
	}
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = "+next(filter.ResourceID))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Search returns events matching filter, newest first unless
// filter.Ascending is set.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	where, args := l.where(filter)
	query := selectEvents + where

	if filter.Ascending {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	return scanEvents(rows)
}

const selectEvents = `
	SELECT id, timestamp, event_type, status, actor_id,
		resource_type, resource_id, request_id,
		message, error_message, metadata, changes
	FROM audit_logs`

func scanEvents(rows *sql.Rows) ([]*AuditEvent, error) {
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{}
		var metadata, changes sql.NullString
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &event.EventType, &event.Status, &event.ActorID,
			&event.ResourceType, &event.ResourceID, &event.RequestID,
			&event.Message, &event.ErrorMessage, &metadata, &changes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if changes.Valid {
			event.Changes = &ChangeDetails{}
			if err := json.Unmarshal([]byte(changes.String), event.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return events, nil
}

// Get returns one event by id, or nil when there is none.
func (l *DBLogger) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	rows, err := l.db.QueryContext(ctx, selectEvents+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

// GetStats summarises events in [startTime, endTime]; nil bounds are open.
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
	stats := &AuditStats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
	}
	where, args := l.where(SearchFilter{StartTime: startTime, EndTime: endTime})
	and := " WHERE "
	if where != "" {
		and = where + " AND "
	}

	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	if err := l.groupCount(ctx, "event_type", where, args, func(k string, n int64) {
		stats.EventsByType[EventType(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}
	if err := l.groupCount(ctx, "status", where, args, func(k string, n int64) {
		stats.EventsByStatus[EventStatus(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to get events by status: %w", err)
	}

	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT actor_id) FROM audit_logs"+and+"actor_id IS NOT NULL", args...).Scan(&stats.UniqueActors); err != nil {
		return nil, fmt.Errorf("failed to get unique actors: %w", err)
	}
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+and+"status = 'denied'", args...).Scan(&stats.AccessDenials); err != nil {
		return nil, fmt.Errorf("failed to get access denials: %w", err)
	}
	return stats, nil
}

func (l *DBLogger) groupCount(ctx context.Context, column, where string, args []interface{}, fn func(string, int64)) error {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_logs%s GROUP BY %s", column, where, column), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

// Export renders the events matching filter.
func (l *DBLogger) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Export(events, format)
}

// Cleanup deletes events older than the retention period and returns how
// many were removed.
func (l *DBLogger) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close is a no-op; the database is shared with the graph store.
func (l *DBLogger) Close() error {
	return nil
}
