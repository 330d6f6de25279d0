// Package pipeline provides the minimal generic pipeline executor that the
// window operator treats as an external collaborator: just enough to chain
// a handful of operators together, run them concurrently, and propagate
// errors and cancellation, so that package window has something real to
// spawn one instance of per window.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tenzir/windowpipe/batch"
)

// Operator is one stage of a pipeline. Run consumes batches from in until
// it is closed or yields an EOF batch.Batch, and produces batches on out,
// writing a final EOF batch before returning (without error) once its own
// work is done and in is drained. A leading (source) operator ignores in,
// which will never be sent to. A trailing (sink) operator may choose not to
// write to out at all; in that case the pipeline must be Closed() so
// nothing downstream expects output from it.
type Operator interface {
	Run(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error
}

// Starter is an optional extension: an Operator that needs to do
// potentially-fallible setup before Run is ever called. The executor calls
// Start on every operator that implements it before spawning any Run
// goroutine, in pipeline order; the first error aborts the start entirely.
type Starter interface {
	Start(ctx context.Context) error
}

// Named is an optional extension used for diagnostics.
type Named interface {
	Name() string
}

// Sink marks an Operator that is a terminal consumer: it does not produce
// further batches. A Pipeline whose last operator implements Sink is
// Closed.
type Sink interface {
	Operator
	sinkMarker()
}

// Pipeline is an ordered chain of operators, wired source-to-sink by one
// channel per adjacent pair.
type Pipeline struct {
	Operators []Operator
}

// New constructs a Pipeline from the given operators, in order.
func New(ops ...Operator) *Pipeline {
	return &Pipeline{Operators: append([]Operator{}, ops...)}
}

// Prepend inserts op as the new first operator.
func (p *Pipeline) Prepend(op Operator) {
	p.Operators = append([]Operator{op}, p.Operators...)
}

// Append inserts op as the new last operator.
func (p *Pipeline) Append(op Operator) {
	p.Operators = append(p.Operators, op)
}

// Closed reports whether the pipeline's last operator is already a Sink,
// meaning nothing should expect batches out of it.
func (p *Pipeline) Closed() bool {
	if len(p.Operators) == 0 {
		return false
	}
	_, ok := p.Operators[len(p.Operators)-1].(Sink)
	return ok
}

// Executor runs one instance of a Pipeline's operators, each on its own
// goroutine, joined by golang.org/x/sync/errgroup so that the first
// operator to fail cancels the shared context and the rest unwind
// together — the idiomatic Go substitute for CAF's
// shutdown<policy::parallel>.
type Executor struct {
	pipeline *Pipeline
	cancel   context.CancelFunc
	group    *errgroup.Group
	out      chan batch.Batch
}

// Start runs every operator's Starter hook (if present) in pipeline order,
// then spawns one goroutine per operator. If any Starter fails, no
// goroutines are spawned and the error is returned directly: this is what
// lets package window distinguish a "start error" (fatal, reported before
// any window state changes) from a runtime failure.
//
// The returned Executor's Output channel yields every batch the last
// operator produces (including its own terminal EOF) unless the pipeline
// is Closed, in which case Output is closed immediately since nothing will
// ever be written to it.
func Start(ctx context.Context, p *Pipeline) (*Executor, <-chan batch.Batch, error) {
	for _, op := range p.Operators {
		if s, ok := op.(Starter); ok {
			if err := s.Start(ctx); err != nil {
				return nil, nil, err
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)

	out := make(chan batch.Batch)
	e := &Executor{pipeline: p, cancel: cancel, group: group, out: out}

	if len(p.Operators) == 0 {
		close(out)
		return e, out, nil
	}

	var prevOut chan batch.Batch
	for i, op := range p.Operators {
		in := (<-chan batch.Batch)(prevOut)
		isLast := i == len(p.Operators)-1
		var stageOut chan batch.Batch
		if isLast {
			stageOut = out
		} else {
			stageOut = make(chan batch.Batch)
		}
		op := op
		stageOutForClose := stageOut
		closeOnExit := !isLast
		group.Go(func() error {
			err := op.Run(runCtx, in, stageOutForClose)
			if closeOnExit {
				close(stageOutForClose)
			}
			return err
		})
		prevOut = stageOut
	}

	if p.Closed() {
		// The last operator is a sink and will never write to out: close it
		// immediately so Executor.Output reads return done right away.
		close(out)
	} else {
		// The last operator owns out and only ever writes its own terminal
		// EOF on the successful path; if it instead returns an error, out
		// would otherwise never be closed and a range over Output would
		// hang. Closing it once every operator has exited, on any outcome,
		// makes Output observable regardless of how the pipeline ended.
		go func() {
			_ = group.Wait()
			close(out)
		}()
	}

	return e, out, nil
}

// Output returns the channel of batches produced by the pipeline's last
// operator. It is only meaningful when the pipeline is not Closed.
func (e *Executor) Output() <-chan batch.Batch {
	return e.out
}

// Stop cancels every operator's context. It does not wait for them to
// exit; call Wait for that.
func (e *Executor) Stop() {
	e.cancel()
}

// Wait blocks until every operator has returned, then returns the first
// non-nil error any of them produced (if any).
func (e *Executor) Wait() error {
	defer e.cancel()
	return e.group.Wait()
}
