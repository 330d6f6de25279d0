package window_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tenzir/windowpipe/batch"
	"github.com/tenzir/windowpipe/diagnostic"
	"github.com/tenzir/windowpipe/pipeline"
	"github.com/tenzir/windowpipe/window"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

func schema(name string) batch.Schema { return batch.Schema{Name: name} }

func rows(n int) batch.Batch {
	values := make([]any, n)
	for i := range values {
		values[i] = i
	}
	return batch.New(schema("s"), values)
}

func TestWindowSizeSplitsAcrossWindows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pre, post, err := window.NewOperators(ctx, window.Config{
		WindowSize: ptr(uint64(2)),
		Inner:      pipeline.New(pipeline.Identity()),
	})
	require.NoError(t, err)

	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		out <- rows(5)
		out <- batch.EOF()
		return nil
	})
	p := pipeline.New(src, pre, post)

	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)
	defer exec.Stop()

	var total int
	var sawEOF bool
	for b := range out {
		if b.IsEOF() {
			sawEOF = true
			break
		}
		assert.LessOrEqual(t, b.Rows(), 2, "no output batch should exceed the configured window size")
		total += b.Rows()
	}
	assert.True(t, sawEOF)
	assert.Equal(t, 5, total)
	require.NoError(t, exec.Wait())
}

func TestIdleTimeoutRotatesWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pre, post, err := window.NewOperators(ctx, window.Config{
		IdleTimeout: ptr(20 * time.Millisecond),
		Inner:       pipeline.New(pipeline.Identity()),
	})
	require.NoError(t, err)

	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		out <- rows(1)
		time.Sleep(60 * time.Millisecond) // outlast the idle timeout, forcing a rotation
		out <- rows(1)
		out <- batch.EOF()
		return nil
	})
	p := pipeline.New(src, pre, post)

	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)
	defer exec.Stop()

	var batches int
	for b := range out {
		if b.IsEOF() {
			break
		}
		batches++
	}
	assert.GreaterOrEqual(t, batches, 2, "the idle gap should have forced at least two separate windows")
	require.NoError(t, exec.Wait())
}

func TestPeriodGatesReopenAfterEarlyClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pre, post, err := window.NewOperators(ctx, window.Config{
		WindowSize: ptr(uint64(1)),
		Period:     ptr(80 * time.Millisecond),
		Parallel:   ptr(uint64(1)),
		Inner:      pipeline.New(pipeline.Identity()),
	})
	require.NoError(t, err)

	// Window 1 exhausts its size-1 budget on the very first row and closes
	// at t≈0; row 2 arrives shortly after and must wait in blocked_inputs
	// until window 2 opens at the next period boundary, not immediately
	// once window 1 finishes draining.
	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		out <- rows(1)
		time.Sleep(5 * time.Millisecond)
		out <- rows(1)
		out <- batch.EOF()
		return nil
	})
	p := pipeline.New(src, pre, post)

	start := time.Now()
	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)
	defer exec.Stop()

	var batchTimes []time.Time
	for b := range out {
		if b.IsEOF() {
			break
		}
		batchTimes = append(batchTimes, time.Now())
	}
	require.NoError(t, exec.Wait())

	require.Len(t, batchTimes, 2, "each window should have produced exactly one output batch")
	assert.Less(t, batchTimes[0].Sub(start), 40*time.Millisecond,
		"window 1 should close and emit almost immediately")
	assert.GreaterOrEqual(t, batchTimes[1].Sub(start), 60*time.Millisecond,
		"window 2 must wait for the configured period boundary, not reopen as soon as window 1 drains")
}

func TestNonblockingDropsUnderSaturation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	diag := &diagnostic.CollectingHandler{}
	pre, post, err := window.NewOperators(ctx, window.Config{
		WindowSize:  ptr(uint64(1)),
		Parallel:    ptr(uint64(1)),
		Nonblocking: ptr(true),
		Inner:       pipeline.New(pipeline.DelayedIdentity(200 * time.Millisecond)),
	}, window.WithDiagnostics(diag))
	require.NoError(t, err)

	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		for i := 0; i < 20; i++ {
			out <- rows(1)
		}
		out <- batch.EOF()
		return nil
	})
	p := pipeline.New(src, pre, post)

	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)
	defer exec.Stop()

	var total int
	for b := range out {
		if b.IsEOF() {
			break
		}
		total += b.Rows()
	}
	assert.Less(t, total, 20, "nonblocking admission under a slow, saturated inner pipeline must drop some rows")
	require.NoError(t, exec.Wait())
	assert.NotEmpty(t, diag.Items(), "a dropped batch should have produced a diagnostic")
}

func TestStartFailureIsFatal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pre, post, err := window.NewOperators(ctx, window.Config{
		WindowSize: ptr(uint64(1)),
		Inner:      pipeline.New(pipeline.FailOnStart()),
	})
	require.NoError(t, err)

	// PRE fails on its first push, so the source must give up on ctx
	// cancellation instead of blocking on a send nobody will receive.
	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		for _, b := range []batch.Batch{rows(1), batch.EOF()} {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- b:
			}
		}
		return nil
	})
	p := pipeline.New(src, pre, post)

	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)

	for range out {
		// Drain until the coordinator's failure closes the output channel.
	}
	assert.Error(t, exec.Wait())
}

func TestRuntimeFailureIsFatal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pre, post, err := window.NewOperators(ctx, window.Config{
		WindowSize: ptr(uint64(1 << 40)),
		Inner:      pipeline.New(pipeline.FailAfterBatches(1)),
	})
	require.NoError(t, err)

	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		out <- rows(1)
		out <- rows(1)
		out <- batch.EOF()
		return nil
	})
	p := pipeline.New(src, pre, post)

	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)

	for range out {
		// Drain until the coordinator's failure closes the output channel.
	}
	err = exec.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, window.ErrInnerFailed)
}

func TestUnboundedIdentityRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pre, post, err := window.NewOperators(ctx, window.Config{
		WindowSize: ptr(uint64(1 << 40)),
		Inner:      pipeline.New(pipeline.Identity()),
	})
	require.NoError(t, err)

	in := []batch.Batch{rows(3), rows(7), batch.EOF()}
	src := pipeline.Func("src", func(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
		for _, b := range in {
			out <- b
		}
		return nil
	})
	p := pipeline.New(src, pre, post)

	exec, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)
	defer exec.Stop()

	var got []batch.Batch
	for b := range out {
		got = append(got, b)
		if b.IsEOF() {
			break
		}
	}
	require.NoError(t, exec.Wait())

	require.Len(t, got, len(in))
	for i, b := range in {
		assert.Equal(t, b.Rows(), got[i].Rows())
		assert.Equal(t, b.IsEOF(), got[i].IsEOF())
	}
}

func TestInvalidConfigAggregatesViolations(t *testing.T) {
	_, _, err := window.NewOperators(context.Background(), window.Config{})
	require.Error(t, err)
	var cfgErr *window.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.GreaterOrEqual(t, len(cfgErr.Violations), 2, "missing window bound and missing inner pipe should both be reported")
}
