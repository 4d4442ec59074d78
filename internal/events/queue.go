package events

import (
	"context"
	"sync/atomic"
)

// DefaultQueueSize is the buffer used when NewQueue is given size <= 0.
const DefaultQueueSize = 64

// Queue decouples a slow sink from producers. Publish enqueues without
// blocking and drops the event when the buffer is full; Run drains the
// buffer into the wrapped sink until its context is cancelled.
type Queue struct {
	inner   Sink
	ch      chan Event
	dropped atomic.Uint64
}

// NewQueue wraps inner with a buffer of size events.
func NewQueue(inner Sink, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{inner: inner, ch: make(chan Event, size)}
}

// Publish enqueues e, or counts it as dropped if the buffer is full.
func (q *Queue) Publish(e Event) {
	select {
	case q.ch <- e:
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Run delivers queued events until ctx is done. Events still buffered
// when ctx is cancelled are discarded.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-q.ch:
			q.inner.Publish(e)
		}
	}
}
