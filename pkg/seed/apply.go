package seed

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/audit"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/workflow"
)

// Report counts what one Apply created. Items that already existed are
// not counted.
type Report struct {
	RelationTypes int
	Permissions   int
	Roles         int
	Grants        int
	Statuses      int
	Transitions   int
	Duration      time.Duration
}

// Empty reports whether the apply changed nothing.
func (r Report) Empty() bool {
	return r.RelationTypes+r.Permissions+r.Roles+r.Grants+r.Statuses+r.Transitions == 0
}

// Applier writes seed documents into a graph store.
type Applier struct {
	store  *graph.Store
	audit  audit.Logger
	logger *logrus.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithAuditLogger records every non-empty apply.
func WithAuditLogger(l audit.Logger) Option {
	return func(a *Applier) { a.audit = l }
}

// NewApplier creates an applier over store.
func NewApplier(store *graph.Store, opts ...Option) *Applier {
	a := &Applier{store: store, logger: store.Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply creates whatever the document describes that does not exist yet,
// in one transaction. Existing entities keep their current labels and
// properties, and transitions are skipped when one already exists for the
// same (scope, from, to), so applying the same document twice is a no-op.
func (a *Applier) Apply(ctx context.Context, doc *Document) (Report, error) {
	started := time.Now()
	var report Report

	err := a.store.WithTx(ctx, func(tx *graph.Store) error {
		if err := applyRelationTypes(ctx, tx, doc, &report); err != nil {
			return err
		}
		if err := applyPermissions(ctx, tx, doc, &report); err != nil {
			return err
		}
		if err := applyRoles(ctx, tx, doc, &report); err != nil {
			return err
		}
		return applyWorkflows(ctx, tx, doc, &report)
	})
	report.Duration = time.Since(started)
	if err != nil {
		return Report{}, err
	}

	fields := logrus.Fields{
		"relation_types": report.RelationTypes,
		"permissions":    report.Permissions,
		"roles":          report.Roles,
		"grants":         report.Grants,
		"statuses":       report.Statuses,
		"transitions":    report.Transitions,
		"duration":       report.Duration,
	}
	if report.Empty() {
		a.logger.WithFields(fields).Debug("Seed already applied")
		return report, nil
	}
	a.logger.WithFields(fields).Info("Seed applied")

	event := audit.NewEvent(0, audit.EventTypeSeedApply, "seed", 0, map[string]interface{}{
		"relation_types": report.RelationTypes,
		"permissions":    report.Permissions,
		"roles":          report.Roles,
		"grants":         report.Grants,
		"statuses":       report.Statuses,
		"transitions":    report.Transitions,
	})
	event.ActorID = nil
	event.Message = "seed applied"
	audit.Record(ctx, a.audit, a.logger, event)
	return report, nil
}

func applyRelationTypes(ctx context.Context, tx *graph.Store, doc *Document, report *Report) error {
	for _, name := range sortedKeys(doc.RelationTypes) {
		label := doc.RelationTypes[name]
		if label == "" {
			label = name
		}
		_, created, err := tx.EnsureEntity(ctx, graph.TypeRelationType, name, label, 0)
		if err != nil {
			return err
		}
		if created {
			report.RelationTypes++
		}
	}
	return nil
}

func applyPermissions(ctx context.Context, tx *graph.Store, doc *Document, report *Report) error {
	for i, p := range doc.Permissions {
		label := p.Label
		if label == "" {
			label = p.Code
		}
		id, created, err := tx.EnsureEntity(ctx, graph.TypePermission, p.Code, label, int64(i))
		if err != nil {
			return err
		}
		if !created {
			continue
		}
		report.Permissions++
		if p.Group != "" {
			if err := tx.SetProperty(ctx, id, "group", p.Group); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyRoles(ctx context.Context, tx *graph.Store, doc *Document, report *Report) error {
	const op = "seed.applyRoles"

	for i, r := range doc.Roles {
		label := r.Label
		if label == "" {
			label = r.Name
		}
		roleID, created, err := tx.EnsureEntity(ctx, graph.TypeRole, r.Name, label, int64(i))
		if err != nil {
			return err
		}
		if created {
			report.Roles++
			if r.Description != "" {
				if err := tx.SetProperty(ctx, roleID, "description", r.Description); err != nil {
					return err
				}
			}
		}

		for _, code := range r.Permissions {
			perm, err := tx.FindEntity(ctx, graph.TypePermission, code)
			if apperr.IsNotFound(err) {
				return apperr.NotFound(op, "permission %q granted to role %q", code, r.Name)
			}
			if err != nil {
				return err
			}
			exists, err := tx.RelationExists(ctx, graph.RelHasPermission, roleID, perm.ID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := tx.CreateRelation(ctx, graph.RelHasPermission, roleID, perm.ID); err != nil {
				return err
			}
			report.Grants++
		}
	}
	return nil
}

func applyWorkflows(ctx context.Context, tx *graph.Store, doc *Document, report *Report) error {
	const op = "seed.applyWorkflows"
	builder := workflow.NewBuilder(tx)

	for _, scope := range doc.Scopes() {
		wf := doc.Workflows[scope]

		existing, err := builder.ListStatuses(ctx, scope)
		if err != nil {
			return err
		}
		ids := make(map[string]int64, len(existing)+len(wf.Statuses))
		for _, s := range existing {
			ids[s.Code] = s.ID
		}

		for i, s := range wf.Statuses {
			if _, ok := ids[s.Code]; ok {
				continue
			}
			order := s.Order
			if order == 0 {
				order = int64(i + 1)
			}
			id, err := builder.CreateStatus(ctx, workflow.StatusInput{
				Scope:      scope,
				Code:       s.Code,
				Label:      s.Label,
				Order:      order,
				IsInitial:  s.Initial,
				IsTerminal: s.Terminal,
			})
			if err != nil {
				return err
			}
			ids[s.Code] = id
			report.Statuses++
		}

		transitions, err := builder.ListTransitions(ctx, scope)
		if err != nil {
			return err
		}
		have := make(map[[2]string]bool, len(transitions))
		for _, t := range transitions {
			have[[2]string{t.FromStatusCode, t.ToStatusCode}] = true
		}

		for _, t := range wf.Transitions {
			if have[[2]string{t.From, t.To}] {
				continue
			}
			from, ok := ids[t.From]
			if !ok {
				return apperr.NotFound(op, "status %q in scope %s", t.From, scope)
			}
			to, ok := ids[t.To]
			if !ok {
				return apperr.NotFound(op, "status %q in scope %s", t.To, scope)
			}
			if _, err := builder.CreateTransition(ctx, workflow.TransitionInput{
				Scope:              scope,
				FromStatusID:       from,
				ToStatusID:         to,
				Label:              t.Label,
				RequiredPermission: t.Permission,
				RequiresOutcome:    t.RequiresOutcome,
				Condition:          t.Condition,
			}); err != nil {
				return err
			}
			report.Transitions++
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
