package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/apperr"
	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/observability"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles graph persistence: entities, their properties and the
// typed relations between them.
//
// A Store returned by New is safe for concurrent use. The Store handed to a
// WithTx callback is bound to that transaction and must not outlive it.
type Store struct {
	db      *sql.DB
	q       querier
	types   *relationTypes
	metrics *observability.Metrics
	logger  *logrus.Logger

	notifier Notifier
	tx       *txState
}

// txState collects side effects that may only happen after commit.
type txState struct {
	mu                   sync.Mutex
	changes              []Change
	relationTypesChanged bool
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier reports committed mutations to n.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithMetrics records store operation metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the store logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRelationTypeCacheSize bounds the relation type name cache.
func WithRelationTypeCacheSize(size int) Option {
	return func(s *Store) { s.types = newRelationTypes(size, s.metrics) }
}

// New creates a graph store over db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, q: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.types == nil {
		s.types = newRelationTypes(DefaultRelationTypeCacheSize, s.metrics)
	}
	s.types.metrics = s.metrics
	return s
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx reports whether s is bound to a transaction.
func (s *Store) InTx() bool {
	return s.tx != nil
}

// WithTx runs fn inside a transaction. fn receives a Store bound to the
// transaction; every read and write made through it sees the transaction's
// uncommitted state. The transaction commits when fn returns nil and rolls
// back otherwise. Notifications raised inside fn are delivered after commit
// and discarded on rollback.
//
// Calling WithTx on a transaction-bound Store joins the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.StoreFailure("graph.WithTx", fmt.Errorf("failed to begin transaction: %w", err))
	}

	state := &txState{}
	txStore := &Store{
		db:       s.db,
		q:        sqlTx,
		types:    s.types,
		metrics:  s.metrics,
		logger:   s.logger,
		notifier: s.notifier,
		tx:       state,
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Failed to roll back graph transaction")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperr.StoreFailure("graph.WithTx", fmt.Errorf("failed to commit transaction: %w", err))
	}

	if state.relationTypesChanged {
		s.types.purge()
	}
	if s.notifier != nil {
		for _, change := range state.changes {
			s.notifier.Notify(ctx, change)
		}
	}
	return nil
}

func (s *Store) emit(ctx context.Context, change Change) {
	if s.notifier == nil {
		return
	}
	if s.tx != nil {
		s.tx.mu.Lock()
		s.tx.changes = append(s.tx.changes, change)
		s.tx.mu.Unlock()
		return
	}
	s.notifier.Notify(ctx, change)
}

// relationTypesChanged invalidates the relation type cache, deferring to
// commit inside a transaction.
func (s *Store) relationTypesChanged() {
	if s.tx != nil {
		s.tx.mu.Lock()
		s.tx.relationTypesChanged = true
		s.tx.mu.Unlock()
		return
	}
	s.types.purge()
}

func (s *Store) resolveRelationType(ctx context.Context, name string) (int64, bool, error) {
	return s.types.resolve(ctx, s.q, name, s.tx == nil)
}

// track records the outcome of a store operation. Use as
// defer s.track("op", time.Now(), &err).
func (s *Store) track(op string, started time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	s.metrics.ObserveStoreOp(op, time.Since(started), err)
}

// storeErr classifies a driver error for op, mapping unique violations to
// apperr.ErrDuplicate.
func storeErr(op string, err error) error {
	if database.IsUniqueViolation(err) {
		return apperr.StoreFailure(op, fmt.Errorf("%w: %v", apperr.ErrDuplicate, err))
	}
	return apperr.StoreFailure(op, err)
}

func now() time.Time {
	return time.Now().UTC()
}

// RelationTypeID resolves a relation type name. ok is false when no
// relation_type entity has that name.
func (s *Store) RelationTypeID(ctx context.Context, name string) (id int64, ok bool, err error) {
	id, ok, err = s.resolveRelationType(ctx, name)
	if err != nil {
		return 0, false, storeErr("graph.RelationTypeID", err)
	}
	return id, ok, nil
}

// QueryContext runs a read query on the store's connection, or on its
// transaction when s is transaction-bound. It lets resolvers express
// multi-hop joins over the graph tables in one round trip.
func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, query, args...)
}

// QueryRowContext is the single-row form of QueryContext.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.q.QueryRowContext(ctx, query, args...)
}

// Metrics returns the metrics the store records to, possibly nil.
func (s *Store) Metrics() *observability.Metrics {
	return s.metrics
}

// Logger returns the store logger.
func (s *Store) Logger() *logrus.Logger {
	return s.logger
}
