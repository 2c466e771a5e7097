package authcore

import (
	"context"
)

// auditDispatcher forwards audit events to a sink off the request
// path. A nil dispatcher is valid and drops everything.
type auditDispatcher struct {
	cfg   AuditConfig
	sink  AuditSink
	queue *asyncQueue[AuditEvent]
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{cfg: cfg, sink: sink}
	d.queue = newAsyncQueue(cfg.BufferSize, func(event AuditEvent) {
		d.sink.Emit(context.Background(), event)
	})
	return d
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		d.queue.TryPush(event)
		return
	}
	d.queue.Push(ctx, event)
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.queue.Close()
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.queue.Dropped()
}
