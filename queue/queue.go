// Package queue implements the bounded promise-queue that is the central
// synchronization primitive of the window operator (component A of the
// design): a single-writer/single-reader async queue where Push blocks
// (via a returned completion) once the buffer reaches capacity, and Pull
// blocks (via a returned completion) when the buffer is empty.
//
// A Queue is not safe for concurrent Push/Pull calls from multiple
// goroutines simultaneously manipulating its internal state; in this module
// it is always driven from a single owning goroutine (the window
// coordinator's command loop), exactly as the design's ownership model
// requires. The completions it hands back are channels, which are safe to
// receive from any goroutine.
package queue

import "fmt"

// closedSignal is returned by Push whenever the value was accepted
// without needing to wait for capacity to free up.
var closedSignal = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Queue is a bounded FIFO of capacity C >= 1. See the package doc for the
// concurrency contract.
type Queue[T any] struct {
	capacity    int
	buf         []T
	pullWaiter  chan T
	pushWaiter  chan struct{}
}

// New constructs a Queue with the given capacity, which must be at least 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("queue: capacity must be >= 1, got %d", capacity))
	}
	return &Queue[T]{capacity: capacity}
}

// Push enqueues v. If a Pull is already waiting, v is delivered to it
// directly. Otherwise v is buffered; if the buffer has now reached
// capacity, Push returns a completion the caller must receive from before
// issuing another Push. If the value was accepted with room to spare, the
// returned channel is already closed.
//
// Push panics if a previous Push's completion has not yet been observed —
// violating the single-outstanding-push invariant is a programming error in
// the caller, not a runtime condition to recover from.
func (q *Queue[T]) Push(v T) <-chan struct{} {
	if q.pullWaiter != nil {
		w := q.pullWaiter
		q.pullWaiter = nil
		w <- v
		return closedSignal
	}
	q.buf = append(q.buf, v)
	if len(q.buf) < q.capacity {
		return closedSignal
	}
	if q.pushWaiter != nil {
		panic("queue: Push called while a previous Push completion is still pending")
	}
	ch := make(chan struct{})
	q.pushWaiter = ch
	return ch
}

// ForcePush enqueues v while ignoring capacity; it never returns a pending
// completion. It exists so that EOF sentinels and window-closing drains
// cannot deadlock against a full queue.
func (q *Queue[T]) ForcePush(v T) {
	if q.pullWaiter != nil {
		w := q.pullWaiter
		q.pullWaiter = nil
		w <- v
		return
	}
	q.buf = append(q.buf, v)
}

// Pull dequeues the head of the buffer, returning it via an already-filled
// channel. If the buffer is empty, the returned channel resolves once the
// next Push or ForcePush delivers a value. If a Push was waiting on
// capacity and this Pull frees enough room, that Push's completion is
// released.
//
// Pull panics if a previous Pull's completion has not yet been observed.
func (q *Queue[T]) Pull() <-chan T {
	if len(q.buf) > 0 {
		v := q.buf[0]
		q.buf = q.buf[1:]
		if q.pushWaiter != nil && len(q.buf) < q.capacity {
			close(q.pushWaiter)
			q.pushWaiter = nil
		}
		ch := make(chan T, 1)
		ch <- v
		return ch
	}
	if q.pullWaiter != nil {
		panic("queue: Pull called while a previous Pull completion is still pending")
	}
	ch := make(chan T, 1)
	q.pullWaiter = ch
	return ch
}

// Len reports the number of buffered values (not counting values already
// handed to a waiting Pull).
func (q *Queue[T]) Len() int {
	return len(q.buf)
}

// Cap reports the queue's capacity, letting a caller decide whether a Push
// would have to wait before attempting it.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// WouldPend reports whether the next Push would return a pending
// completion instead of an already-closed one, without performing it.
// Nonblocking callers use this to decide whether to drop a value instead
// of ever creating backpressure.
func (q *Queue[T]) WouldPend() bool {
	if q.pullWaiter != nil {
		return false
	}
	return len(q.buf)+1 >= q.capacity
}
