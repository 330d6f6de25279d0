package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzir/windowpipe/queue"
)

func TestPushBelowCapacityReadyImmediately(t *testing.T) {
	q := queue.New[int](2)
	select {
	case <-q.Push(1):
	default:
		t.Fatal("expected push completion to be ready immediately")
	}
	assert.Equal(t, 1, q.Len())
}

func TestPushAtCapacityBlocksUntilDrained(t *testing.T) {
	q := queue.New[int](1)
	wait := q.Push(1)
	select {
	case <-wait:
		t.Fatal("push completion should not be ready while buffer is full")
	default:
	}

	// Draining via Pull must release the pending push.
	got := <-q.Pull()
	assert.Equal(t, 1, got)

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("push completion was never released after Pull drained the buffer")
	}
}

func TestPullBlocksUntilPush(t *testing.T) {
	q := queue.New[int](4)
	pulled := q.Pull()

	select {
	case <-pulled:
		t.Fatal("pull should not resolve before any push")
	default:
	}

	q.Push(42)

	select {
	case v := <-pulled:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("pull never resolved after push")
	}
}

func TestForcePushIgnoresCapacity(t *testing.T) {
	q := queue.New[int](1)
	q.Push(1)
	require.NotPanics(t, func() {
		q.ForcePush(2)
		q.ForcePush(3)
	})
	assert.Equal(t, 3, q.Len())
}

func TestFIFOOrdering(t *testing.T) {
	q := queue.New[int](10)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, <-q.Pull())
	}
}

func TestDoublePullPanics(t *testing.T) {
	q := queue.New[int](4)
	_ = q.Pull()
	assert.Panics(t, func() { q.Pull() })
}

func TestDoublePushWaiterPanics(t *testing.T) {
	q := queue.New[int](2)
	q.Push(1) // below capacity, no waiter yet
	q.Push(2) // buffer at capacity, this registers a push waiter
	assert.Panics(t, func() { q.Push(3) })
}

func TestForcePushDeliversDirectlyToWaitingPull(t *testing.T) {
	q := queue.New[int](4)
	pulled := q.Pull()
	q.ForcePush(7)
	assert.Equal(t, 7, <-pulled)
	assert.Equal(t, 0, q.Len())
}
