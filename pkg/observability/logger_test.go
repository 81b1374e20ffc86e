package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decode(t, &buf)
		if entry["level"] != "info" {
			t.Errorf("Expected level info, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		" WARN ":  logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", &buf)

	logger.WithFields(logrus.Fields{"scope": "proposal", "count": 2}).Debug("message")

	entry := decode(t, &buf)
	if entry["scope"] != "proposal" {
		t.Errorf("Expected field 'scope' to be 'proposal', got %v", entry["scope"])
	}
	if entry["count"] != float64(2) {
		t.Errorf("Expected field 'count' to be 2, got %v", entry["count"])
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID")
	}
	if GetUserID(ctx) != "" {
		t.Error("Expected empty user ID")
	}
	if GetLogger(ctx) != logrus.StandardLogger() {
		t.Error("Expected standard logger when none is set")
	}

	ctx = WithRequestID(ctx, "req-123")
	ctx = WithUserID(ctx, "42")
	if GetRequestID(ctx) != "req-123" {
		t.Errorf("Expected request ID 'req-123', got %s", GetRequestID(ctx))
	}
	if GetUserID(ctx) != "42" {
		t.Errorf("Expected user ID '42', got %s", GetUserID(ctx))
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithUserID(ctx, "7")

	FromContext(ctx).Info("handled")

	entry := decode(t, &buf)
	if entry["request_id"] != "req-456" {
		t.Errorf("Expected request_id 'req-456', got %v", entry["request_id"])
	}
	if entry["user_id"] != "7" {
		t.Errorf("Expected user_id '7', got %v", entry["user_id"])
	}
}
