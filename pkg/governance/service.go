package governance

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/authz"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/observability"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

var serviceTracer = otel.Tracer("quorum/governance")

// Service applies status changes to governed entities.
type Service struct {
	store  *graph.Store
	engine *workflow.Engine
	audit  audit.Logger
	logger *logrus.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAuditLogger sets where applied transitions are recorded. Defaults to
// audit.NoOp().
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// NewService creates a service over store.
func NewService(store *graph.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		engine: workflow.NewEngine(store),
		audit:  audit.NoOp(),
		logger: store.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes an applied transition.
type Result struct {
	EntityID int64  `json:"entity_id"`
	Scope    string `json:"scope"`
	From     string `json:"from"`
	To       string `json:"to"`
	Outcome  string `json:"outcome,omitempty"`
}

// currentStatus reads the entity's status, defaulting to the scope's
// initial status.
func currentStatus(ctx context.Context, engine *workflow.Engine, scope string, props map[string]string) (string, error) {
	if status := props[workflow.PropStatus]; status != "" {
		return status, nil
	}
	return engine.InitialStatus(ctx, scope)
}

// Transition moves entityID to toStatus on behalf of actor.
//
// The current status, the validation and the write happen in one
// transaction. The status is written only if it still holds the value that
// was validated, so of two concurrent callers moving the entity out of the
// same status one fails with an InvalidTransition error. When the
// transition requires an outcome, outcome must be non-empty; a supplied
// outcome is stored alongside the status either way.
//
// The audit record is written after commit. An audit failure is logged and
// does not undo or fail the transition.
func (s *Service) Transition(ctx context.Context, actor authz.Actor, scope string, entityID int64, toStatus, outcome string) (Result, error) {
	const op = "governance.Transition"

	ctx, span := serviceTracer.Start(ctx, "Transition")
	span.SetAttributes(
		attribute.String("workflow.scope", scope),
		attribute.Int64("entity.id", entityID),
		attribute.String("workflow.to", toStatus),
	)
	defer span.End()

	result := Result{EntityID: entityID, Scope: scope, To: toStatus, Outcome: outcome}
	err := s.store.WithTx(ctx, func(tx *graph.Store) error {
		if _, err := tx.GetEntity(ctx, entityID); err != nil {
			return err
		}
		props, err := tx.Properties(ctx, entityID)
		if err != nil {
			return err
		}

		engine := s.engine.WithStore(tx)
		from, err := currentStatus(ctx, engine, scope, props)
		if err != nil {
			return err
		}
		result.From = from

		available, err := engine.ValidateTransition(ctx, scope, from, toStatus, actor.Permissions, props)
		if err != nil {
			return err
		}
		if available.RequiresOutcome && outcome == "" {
			return apperr.InvalidTransition(op, "transition from %q to %q in %s requires an outcome", from, toStatus, scope)
		}

		var stored *string
		if v, ok := props[workflow.PropStatus]; ok {
			stored = &v
		}
		swapped, err := tx.SwapProperty(ctx, entityID, workflow.PropStatus, stored, toStatus)
		if err != nil {
			return err
		}
		if !swapped {
			return apperr.InvalidTransition(op, "%s entity %d left status %q concurrently", scope, entityID, from)
		}
		if outcome != "" {
			return tx.SetProperty(ctx, entityID, workflow.PropOutcome, outcome)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		observability.WithTraceContext(ctx, s.logger).WithFields(logrus.Fields{
			"scope":     scope,
			"entity_id": entityID,
			"from":      result.From,
			"to":        toStatus,
			"actor_id":  actor.UserID,
			"kind":      apperr.KindOf(err),
		}).WithError(err).Info("Status transition refused")
		if apperr.IsPermissionDenied(err) {
			s.recordDenied(ctx, actor, scope, entityID, result, apperr.CodeOf(err))
		}
		return Result{}, err
	}

	observability.WithTraceContext(ctx, s.logger).WithFields(logrus.Fields{
		"scope":     scope,
		"entity_id": entityID,
		"from":      result.From,
		"to":        result.To,
		"actor_id":  actor.UserID,
	}).Info("Status transition applied")

	event := audit.NewEvent(actor.UserID, audit.EventTypeStatusTransition, scope, entityID, map[string]interface{}{
		"from": result.From,
		"to":   result.To,
	})
	if outcome != "" {
		event.Metadata["outcome"] = outcome
	}
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{workflow.PropStatus: result.From},
		After:  map[string]interface{}{workflow.PropStatus: result.To},
	}
	audit.Record(ctx, s.audit, s.logger, event)
	return result, nil
}

func (s *Service) recordDenied(ctx context.Context, actor authz.Actor, scope string, entityID int64, result Result, code string) {
	event := audit.NewEvent(actor.UserID, audit.EventTypeAccessDenied, scope, entityID, map[string]interface{}{
		"from":     result.From,
		"to":       result.To,
		"required": code,
	})
	event.Status = audit.EventStatusDenied
	event.Message = "status transition denied: missing " + code
	audit.Record(ctx, s.audit, s.logger, event)
}

// Available lists the transitions actor may take from the entity's current
// status.
func (s *Service) Available(ctx context.Context, actor authz.Actor, scope string, entityID int64) (string, []workflow.AvailableTransition, error) {
	if _, err := s.store.GetEntity(ctx, entityID); err != nil {
		return "", nil, err
	}
	props, err := s.store.Properties(ctx, entityID)
	if err != nil {
		return "", nil, err
	}
	from, err := currentStatus(ctx, s.engine, scope, props)
	if err != nil {
		return "", nil, err
	}
	available, err := s.engine.AvailableTransitions(ctx, scope, from, actor.Permissions, props)
	if err != nil {
		return "", nil, err
	}
	return from, available, nil
}

// History returns the recorded transitions of an entity, newest first,
// when the audit logger can be searched.
func (s *Service) History(ctx context.Context, scope string, entityID int64, limit int) ([]*audit.AuditEvent, error) {
	searcher, ok := s.audit.(interface {
		Search(context.Context, audit.SearchFilter) ([]*audit.AuditEvent, error)
	})
	if !ok {
		return nil, apperr.ConfigurationGap("governance.History", "searchable audit logger")
	}
	return searcher.Search(ctx, audit.SearchFilter{
		EventTypes:   []audit.EventType{audit.EventTypeStatusTransition},
		ResourceType: audit.ResourceType(scope),
		ResourceID:   strconv.FormatInt(entityID, 10),
		Limit:        limit,
	})
}
