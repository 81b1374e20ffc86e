package governance_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/authz"
	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/graph/graphtest"
	"github.com/platinummonkey/quorum/pkg/governance"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

type recorder struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (r *recorder) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) Close() error { return nil }

func setup(t *testing.T, opts ...graph.Option) (*graph.Store, int64) {
	t.Helper()
	ctx := context.Background()
	store := graphtest.NewStore(t, opts...)
	b := workflow.NewBuilder(store)

	ids := map[string]int64{}
	for i, s := range []workflow.StatusInput{
		{Code: "open", IsInitial: true},
		{Code: "voting"},
		{Code: "decided", IsTerminal: true},
	} {
		s.Scope = "agenda_point"
		s.Order = int64(i)
		id, err := b.CreateStatus(ctx, s)
		require.NoError(t, err)
		ids[s.Code] = id
	}
	for _, tr := range []workflow.TransitionInput{
		{FromStatusID: ids["open"], ToStatusID: ids["voting"], RequiredPermission: "agenda.vote"},
		{FromStatusID: ids["voting"], ToStatusID: ids["decided"], RequiredPermission: "agenda.vote", RequiresOutcome: true},
	} {
		tr.Scope = "agenda_point"
		_, err := b.CreateTransition(ctx, tr)
		require.NoError(t, err)
	}

	point := graphtest.MustEntity(t, store, "agenda_point", "budget-2026")
	return store, point
}

var chair = authz.Actor{UserID: 1, Permissions: authz.NewPermissions("agenda.vote")}

func TestTransition_DefaultsToInitialStatus(t *testing.T) {
	ctx := context.Background()
	store, point := setup(t)
	rec := &recorder{}
	svc := governance.NewService(store, governance.WithAuditLogger(rec))

	result, err := svc.Transition(ctx, chair, "agenda_point", point, "voting", "")
	require.NoError(t, err)
	assert.Equal(t, "open", result.From)
	assert.Equal(t, "voting", result.To)

	status, ok, err := store.GetProperty(ctx, point, workflow.PropStatus)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "voting", status)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventTypeStatusTransition, rec.events[0].EventType)
	assert.Equal(t, "open", rec.events[0].Metadata["from"])
	assert.Equal(t, "voting", rec.events[0].Changes.After[workflow.PropStatus])
}

func TestTransition_RequiresOutcome(t *testing.T) {
	ctx := context.Background()
	store, point := setup(t)
	svc := governance.NewService(store)

	_, err := svc.Transition(ctx, chair, "agenda_point", point, "voting", "")
	require.NoError(t, err)

	_, err = svc.Transition(ctx, chair, "agenda_point", point, "decided", "")
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidTransition(err))

	status, _, err := store.GetProperty(ctx, point, workflow.PropStatus)
	require.NoError(t, err)
	assert.Equal(t, "voting", status, "nothing is written when the outcome is missing")

	result, err := svc.Transition(ctx, chair, "agenda_point", point, "decided", "approved")
	require.NoError(t, err)
	assert.Equal(t, "approved", result.Outcome)

	props, err := store.Properties(ctx, point)
	require.NoError(t, err)
	assert.Equal(t, "decided", props[workflow.PropStatus])
	assert.Equal(t, "approved", props[workflow.PropOutcome])
}

func TestTransition_DeniedIsAuditedAndNotWritten(t *testing.T) {
	ctx := context.Background()
	store, point := setup(t)
	rec := &recorder{}
	svc := governance.NewService(store, governance.WithAuditLogger(rec))

	guest := authz.Actor{UserID: 2}
	_, err := svc.Transition(ctx, guest, "agenda_point", point, "voting", "")
	require.Error(t, err)
	assert.True(t, apperr.IsPermissionDenied(err))
	assert.Equal(t, "agenda.vote", apperr.CodeOf(err))

	_, ok, err := store.GetProperty(ctx, point, workflow.PropStatus)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventStatusDenied, rec.events[0].Status)
	assert.Equal(t, "agenda.vote", rec.events[0].Metadata["required"])
}

func TestTransition_Errors(t *testing.T) {
	ctx := context.Background()
	store, point := setup(t)
	svc := governance.NewService(store)

	_, err := svc.Transition(ctx, chair, "agenda_point", point+1000, "voting", "")
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.Transition(ctx, chair, "agenda_point", point, "decided", "approved")
	assert.True(t, apperr.IsInvalidTransition(err), "open to decided is not configured")

	_, err = svc.Transition(ctx, chair, "meeting", point, "closed", "")
	assert.True(t, apperr.IsConfigurationGap(err), "scope without an initial status")
}

func TestTransition_AuditFailureIsLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	store, point := setup(t, graph.WithLogger(logger))
	svc := governance.NewService(store, governance.WithAuditLogger(&recorder{err: errors.New("audit store down")}))

	_, err := svc.Transition(ctx, chair, "agenda_point", point, "voting", "")
	require.NoError(t, err)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Failed to write audit event" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestAvailableAndHistory(t *testing.T) {
	ctx := context.Background()
	store, point := setup(t)
	dbAudit, err := audit.NewDBLogger(ctx, store.DB(), database.SQLite)
	require.NoError(t, err)
	svc := governance.NewService(store, governance.WithAuditLogger(dbAudit))

	from, available, err := svc.Available(ctx, chair, "agenda_point", point)
	require.NoError(t, err)
	assert.Equal(t, "open", from)
	require.Len(t, available, 1)
	assert.Equal(t, "voting", available[0].ToStatusCode)

	_, err = svc.Transition(ctx, chair, "agenda_point", point, "voting", "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, chair, "agenda_point", point, "decided", "rejected")
	require.NoError(t, err)

	history, err := svc.History(ctx, "agenda_point", point, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "decided", history[0].Metadata["to"])
	assert.Equal(t, "rejected", history[0].Metadata["outcome"])

	_, err = governance.NewService(store).History(ctx, "agenda_point", point, 10)
	assert.True(t, apperr.IsConfigurationGap(err))
}

func TestTransition_ConcurrentCallersFromSameStatus(t *testing.T) {
	ctx := context.Background()
	store, point := setup(t)
	rec := &recorder{}
	svc := governance.NewService(store, governance.WithAuditLogger(rec))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transition(ctx, chair, "agenda_point", point, "voting", "")
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.True(t, apperr.IsInvalidTransition(err), err)
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, rec.events, 1)
}

func TestTransition_LogsCarryTraceContext(t *testing.T) {
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	logger, hook := test.NewNullLogger()
	store, point := setup(t, graph.WithLogger(logger))
	svc := governance.NewService(store)

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	defer span.End()
	traceID := span.SpanContext().TraceID().String()

	visitor := authz.Actor{UserID: 2}
	_, err := svc.Transition(ctx, visitor, "agenda_point", point, "voting", "")
	require.True(t, apperr.IsPermissionDenied(err))

	_, err = svc.Transition(ctx, chair, "agenda_point", point, "voting", "")
	require.NoError(t, err)

	byMessage := map[string]*logrus.Entry{}
	for _, e := range hook.AllEntries() {
		e := e
		byMessage[e.Message] = e
	}
	refused := byMessage["Status transition refused"]
	require.NotNil(t, refused)
	assert.Equal(t, traceID, refused.Data["trace_id"])
	assert.Equal(t, apperr.KindPermissionDenied, refused.Data["kind"])

	applied := byMessage["Status transition applied"]
	require.NotNil(t, applied)
	assert.Equal(t, traceID, applied.Data["trace_id"])
}
