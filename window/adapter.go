package window

import (
	"context"

	"github.com/tenzir/windowpipe/batch"
	"github.com/tenzir/windowpipe/pipeline"
)

// sourceAdapter is the SRC half of the inner pipeline: it stands in for an
// outer source by repeatedly pulling this window's admitted rows from the
// coordinator and feeding them to whatever the user's inner pipeline
// starts with.
type sourceAdapter struct {
	c  *Coordinator
	id uint64
}

func newSourceAdapter(c *Coordinator, id uint64) *sourceAdapter {
	return &sourceAdapter{c: c, id: id}
}

func (s *sourceAdapter) Name() string { return "window-src" }

func (s *sourceAdapter) Run(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
	for {
		b, err := s.c.pullInner(ctx, s.id)
		if err != nil {
			return err
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

// sinkAdapter is the SNK half: it relays whatever the user's inner
// pipeline produces back to the coordinator, which merges it into the
// outer output stream.
type sinkAdapter struct {
	c  *Coordinator
	id uint64
}

func newSinkAdapter(c *Coordinator, id uint64) *sinkAdapter {
	return &sinkAdapter{c: c, id: id}
}

func (s *sinkAdapter) Name() string { return "window-snk" }

func (s *sinkAdapter) Run(ctx context.Context, in <-chan batch.Batch, _ chan<- batch.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.c.pushInner(ctx, s.id, b); err != nil {
				return err
			}
			if b.IsEOF() {
				return nil
			}
		}
	}
}

func (s *sinkAdapter) sinkMarker() {}

var (
	_ pipeline.Operator = (*sourceAdapter)(nil)
	_ pipeline.Sink     = (*sinkAdapter)(nil)
)
