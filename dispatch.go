package authcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// asyncQueue is the bounded hand-off behind the audit and delivery
// dispatchers: producers enqueue from the request path, one goroutine
// drains, and Close blocks until the backlog is flushed. Overflow is
// counted, never silently lost.
type asyncQueue[T any] struct {
	ch      chan T
	quit    chan struct{}
	drained chan struct{}

	closing   atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newAsyncQueue[T any](buffer int, work func(T)) *asyncQueue[T] {
	if buffer <= 0 {
		buffer = 1
	}
	q := &asyncQueue[T]{
		ch:      make(chan T, buffer),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go q.drain(work)
	return q
}

func (q *asyncQueue[T]) drain(work func(T)) {
	defer close(q.drained)
	for {
		select {
		case v := <-q.ch:
			work(v)
		case <-q.quit:
			for {
				select {
				case v := <-q.ch:
					work(v)
				default:
					return
				}
			}
		}
	}
}

// TryPush enqueues without blocking. A full buffer or a closing queue
// rejects the value; only the full buffer counts as a drop.
func (q *asyncQueue[T]) TryPush(v T) bool {
	if q.closing.Load() {
		return false
	}
	select {
	case q.ch <- v:
		return true
	case <-q.quit:
		return false
	default:
		q.dropped.Add(1)
		return false
	}
}

// Push blocks until the value is queued, the context ends, or the
// queue closes.
func (q *asyncQueue[T]) Push(ctx context.Context, v T) {
	if q.closing.Load() {
		return
	}
	select {
	case q.ch <- v:
	case <-ctx.Done():
	case <-q.quit:
	}
}

func (q *asyncQueue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops intake and waits for the drain goroutine to finish the
// backlog. Safe to call more than once.
func (q *asyncQueue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closing.Store(true)
		close(q.quit)
		<-q.drained
	})
}
