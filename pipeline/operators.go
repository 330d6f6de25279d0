package pipeline

import (
	"context"

	"github.com/tenzir/windowpipe/batch"
)

// FuncOperator adapts a plain function to Operator.
type FuncOperator struct {
	name string
	run  func(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error
}

// Func constructs an Operator from a run function.
func Func(name string, run func(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error) *FuncOperator {
	return &FuncOperator{name: name, run: run}
}

func (f *FuncOperator) Name() string { return f.name }

func (f *FuncOperator) Run(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error {
	return f.run(ctx, in, out)
}

// identityOperator forwards every batch from in to out unchanged, then
// forwards the terminal EOF and returns.
type identityOperator struct{}

// Identity returns an Operator that copies its input to its output
// verbatim, including the terminal EOF. It is used by the round-trip test
// in spec.md §8: with window_size=∞, parallel=1, no timers, an identity
// inner pipeline must make the operator's output equal its input.
func Identity() Operator { return identityOperator{} }

func (identityOperator) Run(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- b:
			}
			if b.IsEOF() {
				return nil
			}
		}
	}
}

// discardOperator consumes every batch from in without producing output.
type discardOperator struct{}

func (discardOperator) Run(ctx context.Context, in <-chan batch.Batch, _ chan<- batch.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok || b.IsEOF() {
				return nil
			}
		}
	}
}

func (discardOperator) sinkMarker() {}

// Discard returns a sink Operator that drains and drops every input batch.
// A Pipeline whose last operator is Discard() is Closed.
func Discard() Operator { return discardOperator{} }

var (
	_ Operator = identityOperator{}
	_ Sink     = discardOperator{}
)
