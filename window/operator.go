package window

import (
	"context"
	"fmt"

	"github.com/tenzir/windowpipe/batch"
	"github.com/tenzir/windowpipe/pipeline"
	"github.com/tenzir/windowpipe/registry"
)

// coordinators is the process-scoped hand-off table linking a PRE operator
// to the Coordinator its matching POST operator constructed. The two
// halves are built independently — POST owns and constructs the
// coordinator, PRE only ever sees a key — so that an execution plan free
// to instantiate each pipeline operator from its own description, in any
// order, can still wire the pair together once both exist.
var coordinators = registry.NewRegistry[*Coordinator]()

// NewPost constructs the coordinator for one window operator instance,
// registers it under a freshly generated key, and returns the outer
// sink-facing half along with the key NewPre needs to build the matching
// source-facing half.
func NewPost(ctx context.Context, cfg Config, opts ...Option) (pipeline.Operator, registry.Key, error) {
	resolved, err := Resolve(cfg)
	if err != nil {
		return nil, registry.Key{}, err
	}
	c := NewCoordinator(ctx, resolved, opts...)
	key := registry.New()
	coordinators.Put(key, c)
	return &postAdapter{c: c}, key, nil
}

// NewPre constructs the outer source-facing half that admits batches into
// the window boundary POST with the same key already started.
func NewPre(key registry.Key) pipeline.Operator {
	return &preAdapter{key: key}
}

// NewOperators is the convenience constructor for the common case where
// both halves are built together, e.g. by a single operator-factory call
// that places PRE and POST on either side of the user-supplied inner pipe.
func NewOperators(ctx context.Context, cfg Config, opts ...Option) (pre, post pipeline.Operator, err error) {
	post, key, err := NewPost(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewPre(key), post, nil
}

type preAdapter struct {
	key registry.Key
	c   *Coordinator
}

func (p *preAdapter) Name() string { return "window-pre" }

// Start resolves the coordinator POST registered under p.key. Resolving
// twice, or resolving a key no POST ever registered, fails: both indicate
// a factory-wiring mistake rather than a runtime condition.
func (p *preAdapter) Start(ctx context.Context) error {
	c, ok := coordinators.Resolve(p.key)
	if !ok {
		return fmt.Errorf("%w: no coordinator registered for key %s", ErrStartFailed, p.key)
	}
	p.c = c
	return nil
}

func (p *preAdapter) Run(ctx context.Context, in <-chan batch.Batch, _ chan<- batch.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				b = batch.EOF()
			}
			if err := p.c.PushOuter(ctx, b); err != nil {
				return err
			}
			if b.IsEOF() {
				return nil
			}
		}
	}
}

type postAdapter struct {
	c *Coordinator
}

func (p *postAdapter) Name() string { return "window-post" }

func (p *postAdapter) Run(ctx context.Context, _ <-chan batch.Batch, out chan<- batch.Batch) error {
	for {
		b, err := p.c.PullOuter(ctx)
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

var (
	_ pipeline.Operator = (*preAdapter)(nil)
	_ pipeline.Starter  = (*preAdapter)(nil)
	_ pipeline.Operator = (*postAdapter)(nil)
)
