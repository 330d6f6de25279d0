package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/tenzir/windowpipe/batch"
)

// ErrStartFailed is returned by FailOnStart's Start hook.
var ErrStartFailed = errors.New("pipeline: fixture operator failed to start")

// failOnStart is a source fixture whose Start always fails, for exercising
// the "inner pipeline refused to start" failure mode.
type failOnStart struct{ identityOperator }

func (failOnStart) Start(context.Context) error { return ErrStartFailed }

// FailOnStart returns an Operator whose Start hook always returns
// ErrStartFailed.
func FailOnStart() Operator { return failOnStart{} }

// ErrRuntimeFailure is returned by FailAfterBatches once it has forwarded
// its allotted batches.
var ErrRuntimeFailure = errors.New("pipeline: fixture operator failed at runtime")

// FailAfterBatches returns an Operator that forwards the first n batches
// unchanged, then returns ErrRuntimeFailure instead of forwarding the
// next one, for exercising a failure that happens mid-Run rather than at
// Start.
func FailAfterBatches(n int) Operator {
	return Func("fail-after-batches", func(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error {
		forwarded := 0
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b, ok := <-in:
				if !ok {
					return nil
				}
				if forwarded >= n {
					return ErrRuntimeFailure
				}
				forwarded++
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
	})
}

// DelayedIdentity returns an identity Operator that waits delay before
// relaying its first batch (and every batch thereafter, unthrottled).
func DelayedIdentity(delay time.Duration) Operator {
	return Func("delayed-identity", func(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error {
		first := true
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b, ok := <-in:
				if !ok {
					return nil
				}
				if first {
					first = false
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(delay):
					}
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
	})
}
