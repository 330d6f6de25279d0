package window

import (
	"context"

	"github.com/tenzir/windowpipe/batch"
	"github.com/tenzir/windowpipe/queue"
)

// lifecycle is the three-state machine every window moves through exactly
// once, in order: it is STARTING while its inner pipeline instance is
// still being brought up, RUNNING once rows may flow and the outer side
// may address it, and STOPPING from the moment rotate() decides to close
// it until its inner pipeline instance has fully drained.
type lifecycle int

const (
	starting lifecycle = iota
	running
	stopping
)

func (l lifecycle) String() string {
	switch l {
	case starting:
		return "starting"
	case running:
		return "running"
	case stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// windowInstance is one window's worth of coordinator-owned state. Every
// field is only ever touched from the coordinator's single run loop
// goroutine; nothing here needs its own lock.
type windowInstance struct {
	id    uint64
	state lifecycle

	unbounded bool
	remaining uint64 // rows still permitted before a size rotation; meaningless if unbounded

	inputs *queue.Queue[batch.Batch] // outer -> SRC handoff

	cancel context.CancelFunc

	// periodGen/idleGen let a timer that already fired-and-queued be
	// recognized as stale once the window it targeted has rotated or been
	// replaced, without racing time.Timer.Stop.
	periodGen uint64
	idleGen   uint64
}

func newWindowInstance(id uint64, cfg ResolvedConfig, queueCapacity int) *windowInstance {
	return &windowInstance{
		id:        id,
		state:     starting,
		unbounded: cfg.Unbounded,
		remaining: cfg.WindowSize,
		inputs:    queue.New[batch.Batch](queueCapacity),
	}
}

// admit reduces the remaining row budget by n, reporting whether the
// window has exhausted its size budget. Unbounded windows never exhaust.
func (w *windowInstance) admit(n uint64) (exhausted bool) {
	if w.unbounded {
		return false
	}
	if n >= w.remaining {
		w.remaining = 0
		return true
	}
	w.remaining -= n
	return false
}
