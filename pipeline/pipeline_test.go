package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzir/windowpipe/batch"
	"github.com/tenzir/windowpipe/pipeline"
)

func TestTwoStagePipelineForwardsBatches(t *testing.T) {
	schema := batch.Schema{Name: "s"}
	src := pipeline.Func("src", func(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error {
		out <- batch.New(schema, []any{1, 2, 3})
		out <- batch.EOF()
		return nil
	})
	p := pipeline.New(src, pipeline.Identity())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)

	first := <-out
	assert.Equal(t, 3, first.Rows())
	second := <-out
	assert.True(t, second.IsEOF())
}

func TestClosedPipelineOutputClosedImmediately(t *testing.T) {
	src := pipeline.Func("src", func(ctx context.Context, in <-chan batch.Batch, out chan<- batch.Batch) error {
		return nil
	})
	p := pipeline.New(src, pipeline.Discard())
	assert.True(t, p.Closed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, out, err := pipeline.Start(ctx, p)
	require.NoError(t, err)

	_, ok := <-out
	assert.False(t, ok, "closed pipeline's output channel must be closed immediately")
}

func TestStartFailurePropagates(t *testing.T) {
	p := pipeline.New(pipeline.FailOnStart())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := pipeline.Start(ctx, p)
	assert.ErrorIs(t, err, pipeline.ErrStartFailed)
}
