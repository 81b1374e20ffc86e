package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

type contextKey string

// RequestIDKey is the context key audit events read their request id from
const RequestIDKey contextKey = "request_id"

// NoOp returns a logger that discards every event.
func NoOp() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (noOpLogger) Close() error                                     { return nil }

// stamp fills request context on an event before it is written.
func stamp(ctx context.Context, event *AuditEvent) {
	if event.RequestID == "" {
		if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
			event.RequestID = reqID
		}
	}
}

// Record logs event and reports a failure to logger instead of returning
// it. Audit failures never fail the operation being audited.
func Record(ctx context.Context, l Logger, logger *logrus.Logger, event *AuditEvent) {
	if l == nil {
		return
	}
	if err := l.Log(ctx, event); err != nil && logger != nil {
		logger.WithFields(logrus.Fields{
			"event_type":    event.EventType,
			"resource_type": event.ResourceType,
			"resource_id":   event.ResourceID,
		}).WithError(err).Warn("Failed to write audit event")
	}
}
