package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}

func TestShutdown_RunsFunctionsInOrder(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var order []string
	for _, name := range []string{"cron", "mirror", "database"} {
		name := name
		sm.RegisterShutdownFunc(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"cron", "mirror", "database"}, order)
}

func TestShutdown_ContinuesAfterFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	ran := false
	sm.RegisterShutdownFunc("mirror", func(context.Context) error { return errors.New("flush failed") })
	sm.RegisterShutdownFunc("database", func(context.Context) error { ran = true; return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror: flush failed")
	assert.True(t, ran)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Shutdown function failed" && e.Data["component"] == "mirror" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestShutdown_Timeout(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, nil, 20*time.Millisecond)

	skipped := true
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc("after", func(context.Context) error { skipped = false; return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.True(t, skipped)
}

func TestShutdown_WithHTTPServer(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ln) }()

	sm := NewShutdownManager(logger, server, time.Second)
	require.NoError(t, sm.Shutdown())
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}

func TestWaitForShutdown_ContextDone(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	called := false
	sm.RegisterShutdownFunc("db", func(context.Context) error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.True(t, called)
}

func TestRecoverPanic(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "test")
		panic("boom")
	}()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "PANIC recovered", hook.LastEntry().Message)
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
		panic("again")
	}()
	assert.True(t, called)
	assert.Equal(t, "again", hook.LastEntry().Data["panic"])

	called = false
	func() {
		defer RecoverPanicWithCallback(logger, "test", func() { called = true })
	}()
	assert.False(t, called, "callback only runs after a panic")
}
