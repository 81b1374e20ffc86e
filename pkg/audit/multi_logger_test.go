package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (m *memoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLogger) Close() error {
	m.closed = true
	return nil
}

func (m *memoryLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestMultiLogger_Sync(t *testing.T) {
	a, b := &memoryLogger{}, &memoryLogger{}
	multi := NewMultiLogger(a, b)

	require.NoError(t, multi.Log(context.Background(), NewEvent(1, EventTypeSeedApply, "seed", 0, nil)))
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	require.NoError(t, multi.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestMultiLogger_SyncContinuesPastFailure(t *testing.T) {
	failing := &memoryLogger{err: errors.New("disk full")}
	ok := &memoryLogger{}
	multi := NewMultiLogger(failing, ok)

	err := multi.Log(context.Background(), NewEvent(1, EventTypeSeedApply, "seed", 0, nil))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, ok.count())
}

func TestMultiLogger_Empty(t *testing.T) {
	assert.NoError(t, NewMultiLogger().Log(context.Background(), &AuditEvent{}))
}
