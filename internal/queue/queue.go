// Package queue implements the Admission Queue: a bounded, process-local
// buffer of task-id hints with a weak priority bias favoring the Range
// Poller over the Notification Subscriber, realized as two channels behind
// a biased select.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrFull is returned by the non-blocking Push methods when the queue has no
// free capacity. Callers are expected to drop the hint, not retry: the
// Range Poller's next tick is the recovery path.
var ErrFull = errors.New("queue: admission queue full")

// Queue is the Admission Queue. Zero value is not usable; construct with New.
type Queue struct {
	high chan uuid.UUID
	low  chan uuid.UUID
}

// New creates a Queue whose two channels share the given total capacity,
// split evenly (rounded up for high priority) so the poller path always has
// room even when the subscriber path is saturated.
func New(capacity int) *Queue {
	if capacity < 2 {
		capacity = 2
	}
	highCap := (capacity + 1) / 2
	lowCap := capacity / 2
	return &Queue{
		high: make(chan uuid.UUID, highCap),
		low:  make(chan uuid.UUID, lowCap),
	}
}

// PushHigh offers a hint from the Range Poller. Non-blocking: if the high
// priority channel is full, returns ErrFull.
func (q *Queue) PushHigh(id uuid.UUID) error {
	select {
	case q.high <- id:
		return nil
	default:
		return ErrFull
	}
}

// PushLow offers a hint from the Notification Subscriber. Non-blocking: if
// the low priority channel is full, returns ErrFull and the caller must
// drop the hint rather than block.
func (q *Queue) PushLow(id uuid.UUID) error {
	select {
	case q.low <- id:
		return nil
	default:
		return ErrFull
	}
}

// HighLen reports the current buffered depth of the poller (high priority)
// channel.
func (q *Queue) HighLen() int { return len(q.high) }

// LowLen reports the current buffered depth of the subscriber (low priority)
// channel.
func (q *Queue) LowLen() int { return len(q.low) }

// Pop blocks until a hint is available or ctx is done. When both channels
// have a ready value, the high priority (poller) channel is preferred.
func (q *Queue) Pop(ctx context.Context) (uuid.UUID, bool) {
	// First pass: give the poller channel priority when it already has a
	// ready value, so a concurrently arriving subscriber hint never jumps
	// ahead of a poller hint that was ready first.
	select {
	case id := <-q.high:
		return id, true
	default:
	}

	select {
	case id := <-q.high:
		return id, true
	case id := <-q.low:
		return id, true
	case <-ctx.Done():
		return uuid.UUID{}, false
	}
}
