package audit

import (
	"context"
	"errors"
	"time"

	"github.com/locafleet/locafleet/pkg/async"
	"github.com/locafleet/locafleet/pkg/contextkeys"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/tenancy"
)

// Sink persists events. Satisfied by *Store; in-memory in tests.
type Sink interface {
	Insert(ctx context.Context, e *Event) error
}

// Recorder schedules audit writes onto the worker pool. Every task is
// wrapped with the originating request's identity snapshot, so the
// event a worker persists carries the tenant of the request that
// produced it, not whatever ran on that worker before.
type Recorder struct {
	sink    Sink
	pool    *async.Pool
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewRecorder creates a recorder over the pool.
func NewRecorder(sink Sink, pool *async.Pool, metrics *observability.Metrics, logger *observability.Logger) *Recorder {
	r := &Recorder{sink: sink, pool: pool, metrics: metrics, logger: logger}
	if metrics != nil {
		pool.SetDepthCallback(func(depth int) {
			metrics.AuditQueueDepth.Set(float64(depth))
		})
	}
	return r
}

// Record fills the event from ctx and schedules the write. It never
// returns an error to the caller: audit failures must not fail the
// originating operation.
func (r *Recorder) Record(ctx context.Context, e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = contextkeys.GetRequestID(ctx)
	}
	if rc, ok := tenancy.FromContext(ctx); ok {
		if e.TenantID == nil {
			tid := rc.TenantID
			e.TenantID = &tid
		}
		if e.UserID == nil {
			uid := rc.UserID
			e.UserID = &uid
		}
		if e.Roles == nil {
			e.Roles = rc.Roles()
		}
	}
	if e.Action == "" {
		e.Action = contextkeys.GetAction(ctx)
	}

	task := tenancy.WrapTask(ctx, func(taskCtx context.Context) error {
		return r.sink.Insert(taskCtx, e)
	})

	if err := r.pool.Submit(task); err != nil {
		if errors.Is(err, async.ErrBacklogFull) && r.metrics != nil {
			r.metrics.AuditDroppedTotal.Inc()
		}
		r.logger.WithError(err).Warn("audit event dropped")
		return
	}
	if r.metrics != nil {
		r.metrics.AuditEventsTotal.WithLabelValues(string(e.Status)).Inc()
	}
}

// RecordDenied is a convenience for authorization denials.
func (r *Recorder) RecordDenied(ctx context.Context, eventType EventType, action, reason string) {
	r.Record(ctx, &Event{
		EventType: eventType,
		Status:    EventStatusDenied,
		Action:    action,
		Message:   reason,
	})
}
