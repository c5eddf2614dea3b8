// Package handoff provides a zero-capacity, thread-safe rendezvous between
// exactly one producer and one consumer per exchange.
//
// Unlike a buffered queue, an Offer does not complete until a matching Take
// or Poll is in progress on another goroutine. This property is what
// serializes callers of the descriptor factory: a second caller's Offer
// blocks until the listener has taken the first caller's request.
package handoff

import (
	"context"
	"time"
)

// Handoff is a single rendezvous slot for values of type T.
// The zero value is not usable; call New.
type Handoff[T any] struct {
	ch chan T
}

// New creates an empty handoff.
func New[T any]() *Handoff[T] {
	return &Handoff[T]{ch: make(chan T)}
}

// Offer hands v to a waiting consumer. It returns true if a consumer took
// the value within the timeout, false on timeout. A non-nil error is
// returned only when ctx is cancelled first; the value was not delivered.
func (h *Handoff[T]) Offer(ctx context.Context, v T, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case h.ch <- v:
		return true, nil
	case <-t.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// OfferTimeout is Offer without cancellation, for use by the consumer side
// when returning a response to a caller that may have given up.
func (h *Handoff[T]) OfferTimeout(v T, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case h.ch <- v:
		return true
	case <-t.C:
		return false
	}
}

// Poll waits for a producer to hand over a value. It returns ok=false on
// timeout. A non-nil error is returned only when ctx is cancelled first.
func (h *Handoff[T]) Poll(ctx context.Context, timeout time.Duration) (v T, ok bool, err error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case v = <-h.ch:
		return v, true, nil
	case <-t.C:
		return v, false, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Take blocks until a value is offered or stop is closed. It returns
// ok=false when interrupted by stop.
func (h *Handoff[T]) Take(stop <-chan struct{}) (v T, ok bool) {
	select {
	case v = <-h.ch:
		return v, true
	case <-stop:
		return v, false
	}
}
