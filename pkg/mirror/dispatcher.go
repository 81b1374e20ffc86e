package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quorum/pkg/async"
	"github.com/platinummonkey/quorum/pkg/graph"
	"github.com/platinummonkey/quorum/pkg/observability"
)

// Config configures a Dispatcher.
type Config struct {
	// Name labels publish metrics, e.g. "redis" or "nats".
	Name          string
	SubjectPrefix string
	Workers       int
	QueueSize     int
	// PublishTimeout bounds one publish call.
	PublishTimeout time.Duration
	Metrics        *observability.Metrics
	Logger         *logrus.Logger
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		SubjectPrefix:  DefaultSubjectPrefix,
		Workers:        4,
		QueueSize:      1024,
		PublishTimeout: 5 * time.Second,
	}
}

// Dispatcher mirrors committed graph changes to a Publisher. It implements
// graph.Notifier.
//
// Delivery is best effort: Notify queues the change and returns. When the
// queue is full the change is dropped, and a failed publish is logged and
// counted, never retried. A periodic Resync repairs whatever was lost.
type Dispatcher struct {
	cfg       Config
	publisher Publisher
	pool      *async.WorkerPool
	metrics   *observability.Metrics
	logger    *logrus.Logger
}

var _ graph.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher's workers. Stop it with Close.
func NewDispatcher(ctx context.Context, publisher Publisher, cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		publisher: publisher,
		pool: async.NewWorkerPool(ctx, async.PoolConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			TaskName:  "graph mirror",
			Timeout:   cfg.PublishTimeout,
			Logger:    cfg.Logger,
		}),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Notify queues change for publishing.
func (d *Dispatcher) Notify(ctx context.Context, change graph.Change) {
	ev := NewEvent(change)
	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.WithError(err).WithField("kind", ev.Kind).Warn("Failed to encode mirror event")
		d.metrics.MirrorEvent(string(ev.Kind), "failed")
		return
	}
	subject := Subject(d.cfg.SubjectPrefix, ev.Kind)

	err = d.pool.TrySubmit(func(ctx context.Context) error {
		d.send(ctx, ev, subject, data)
		return nil
	})
	d.metrics.SetMirrorQueueDepth(d.pool.QueueDepth())
	if err != nil {
		reason := "dropped"
		if errors.Is(err, async.ErrPoolClosed) {
			reason = "closed"
		}
		d.logger.WithFields(logrus.Fields{
			"kind":     ev.Kind,
			"event_id": ev.ID,
			"reason":   reason,
		}).Warn("Mirror event dropped")
		d.metrics.MirrorEvent(string(ev.Kind), "dropped")
	}
}

// send publishes one event, logging rather than returning a failure.
func (d *Dispatcher) send(ctx context.Context, ev Event, subject string, data []byte) bool {
	started := time.Now()
	err := d.publisher.Publish(ctx, subject, data)
	d.metrics.ObserveMirrorPublish(d.cfg.Name, time.Since(started))
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"kind":     ev.Kind,
			"event_id": ev.ID,
			"subject":  subject,
		}).WithError(err).Warn("Mirror publish failed")
		d.metrics.MirrorEvent(string(ev.Kind), "failed")
		return false
	}
	d.metrics.MirrorEvent(string(ev.Kind), "published")
	return true
}

// QueueDepth returns the number of events waiting to be published.
func (d *Dispatcher) QueueDepth() int {
	return d.pool.QueueDepth()
}

// Close stops accepting events, waits up to timeout for queued events to
// drain, then closes the publisher.
func (d *Dispatcher) Close(timeout time.Duration) error {
	poolErr := d.pool.Shutdown(timeout)
	d.metrics.SetMirrorQueueDepth(0)
	if err := d.publisher.Close(); err != nil {
		return err
	}
	return poolErr
}
