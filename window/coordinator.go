// Package window implements the windowed sub-pipeline operator: it splits
// an unbounded outer batch stream into bounded windows, runs one instance
// of a configured inner pipeline per window, and merges the inner
// instances' output back into a single outer stream, with at most one
// window admitting new rows at a time and up to Parallel windows draining
// concurrently.
//
// The Coordinator is the single-threaded actor at the center of the
// design: every piece of mutable state it owns (open windows, the
// blocked-input backlog, timers, the metric remapping table) is only ever
// touched from its own run loop goroutine, reached exclusively through a
// channel of command closures. Every externally callable method
// (PushOuter, PullOuter, and the unexported inner pull/push used by the
// per-window adapters) dispatches a closure onto that channel and waits
// for it to hand back a completion, mirroring the bounded promise-queue of
// package queue: the wait happens in the calling goroutine, never inside
// the loop itself, so the loop is never blocked by backpressure.
package window

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tenzir/windowpipe/batch"
	"github.com/tenzir/windowpipe/diagnostic"
	"github.com/tenzir/windowpipe/metrics"
	"github.com/tenzir/windowpipe/pipeline"
	"github.com/tenzir/windowpipe/queue"
)

// windowInputCapacity bounds how many batches may sit in a single window's
// input queue before PushOuter starts pending. It has no configuration
// knob of its own; a handful of batches is enough to decouple outer
// admission from the inner pipeline's pull cadence without letting an
// idle window accumulate unbounded memory.
const windowInputCapacity = 4

// execContextKey is the context key under which a non-nil
// ResolvedConfig.ExecContext is attached to every inner pipeline
// instance's context, so a caller embedding this package can recover
// whatever opaque bundle it supplied via ExecContextFrom.
type execContextKey struct{}

// ExecContextFrom returns the value supplied as Config.ExecContext for
// the window instance ctx belongs to, or nil if none was set. Inner
// pipeline operators call this to recover caller-supplied state that
// window itself never interprets.
func ExecContextFrom(ctx context.Context) any {
	return ctx.Value(execContextKey{})
}

var closedCompletion = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithDiagnostics forwards the coordinator's diagnostics to h instead of
// discarding them.
func WithDiagnostics(h diagnostic.Handler) Option {
	return func(c *Coordinator) { c.diag = h }
}

// WithMetrics forwards the coordinator's operational metrics to s.
func WithMetrics(s metrics.Sink) Option {
	return func(c *Coordinator) { c.metrics = s }
}

// WithLogger attaches a structured logger used for internal
// (non-diagnostic) tracing, e.g. panic recovery.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithOperatorIndex sets the operator index reported alongside every
// metric sample, so a caller running several window operators in one
// pipeline can tell them apart.
func WithOperatorIndex(index uint64) Option {
	return func(c *Coordinator) { c.operatorIndex = index }
}

// Coordinator is the actor driving one window operator instance's
// lifecycle. Construct one with NewCoordinator, or indirectly via
// NewPost/NewOperators.
type Coordinator struct {
	cfg           ResolvedConfig
	diag          diagnostic.Handler
	metrics       metrics.Sink
	logger        *zap.Logger
	operatorIndex uint64
	baseCtx       context.Context

	cmds chan func()
	done chan struct{}

	// Everything below is owned exclusively by run's goroutine.
	windows              *list.List
	byID                 map[uint64]*list.Element
	outputs              *queue.Queue[batch.Batch]
	blocked              *queue.Queue[batch.Batch]
	outerDone            bool
	finished             bool
	nextID               uint64
	retryAfterWindowDone uint64
	nextStart            time.Time
	rotateGen            uint64
	fatalErr             error
	metricIDs            map[string]string
}

// NewCoordinator constructs and starts a Coordinator for the given
// resolved configuration. Per the construction-time resolution of this
// module's one open design question, it eagerly opens the first window
// before returning rather than waiting for the first outer batch to
// arrive, so that a window with only a period configured starts counting
// down immediately.
func NewCoordinator(ctx context.Context, cfg ResolvedConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		diag:      diagnostic.Nop,
		metrics:   metrics.Nop{},
		logger:    zap.NewNop(),
		baseCtx:   ctx,
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		windows:   list.New(),
		byID:      make(map[uint64]*list.Element),
		outputs:   queue.New[batch.Batch](outputsCapacity(cfg)),
		blocked:   queue.New[batch.Batch](1),
		metricIDs: make(map[string]string),
		nextStart: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.rotate(false)
	go c.run()
	return c
}

func outputsCapacity(cfg ResolvedConfig) int {
	if cfg.Parallel < 1 {
		return 1
	}
	return int(cfg.Parallel)
}

// run is the actor's only goroutine; every field access above happens
// from here, directly or through a command closure executed by safely.
func (c *Coordinator) run() {
	if c.fatalErr != nil {
		c.teardown()
		return
	}
	for {
		select {
		case cmd := <-c.cmds:
			c.safely(cmd)
			if c.fatalErr != nil {
				c.teardown()
				return
			}
		case <-c.done:
			return
		case <-c.baseCtx.Done():
			c.teardown()
			return
		}
	}
}

func (c *Coordinator) safely(cmd func()) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("%w: recovered panic: %v", ErrInternal, r))
		}
	}()
	cmd()
}

func (c *Coordinator) fail(err error) {
	if c.fatalErr != nil {
		return
	}
	c.fatalErr = err
	c.logger.Error("window operator terminating", zap.Error(err))
	c.emitDiagnostic(diagnostic.Error, diagnostic.KindInternal, "window operator terminating", err)
}

func (c *Coordinator) teardown() {
	for el := c.windows.Front(); el != nil; el = el.Next() {
		w := el.Value.(*windowInstance)
		if w.cancel != nil {
			w.cancel()
		}
	}
	close(c.done)
}

func (c *Coordinator) closedErr() error {
	if c.fatalErr != nil {
		return c.fatalErr
	}
	return ErrCoordinatorClosed
}

func (c *Coordinator) emitDiagnostic(sev diagnostic.Severity, kind diagnostic.Kind, msg string, err error) {
	if c.diag == nil {
		return
	}
	c.diag.Emit(diagnostic.Diagnostic{Severity: sev, Kind: kind, Message: msg, Err: err, Operator: "window"})
}

func (c *Coordinator) reportMetric(id string, schema metrics.Schema, sample metrics.Sample) {
	if c.metrics == nil {
		return
	}
	outerID, ok := c.metricIDs[id]
	if !ok {
		outerID = uuid.NewString()
		c.metricIDs[id] = outerID
		c.metrics.RegisterSchema(c.operatorIndex, outerID, schema)
	}
	c.metrics.Observe(c.operatorIndex, outerID, sample)
}

func (c *Coordinator) reportWindowGauge() {
	open, stopping := 0, 0
	for el := c.windows.Front(); el != nil; el = el.Next() {
		if el.Value.(*windowInstance).state == stopping {
			stopping++
		} else {
			open++
		}
	}
	c.reportMetric("windows", metrics.Schema{Name: "window_state", Fields: []string{"open", "stopping"}},
		metrics.Sample{Values: map[string]float64{"open": float64(open), "stopping": float64(stopping)}})
}

// --- dispatch plumbing -----------------------------------------------------

func (c *Coordinator) dispatch(ctx context.Context, fn func() (<-chan struct{}, error)) error {
	type result struct {
		ch  <-chan struct{}
		err error
	}
	reply := make(chan result, 1)
	select {
	case c.cmds <- func() {
		ch, err := fn()
		reply <- result{ch, err}
	}:
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	var r result
	select {
	case r = <-reply:
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}

	select {
	case <-r.ch:
		return nil
	default:
	}
	select {
	case <-r.ch:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) dispatchPull(ctx context.Context, fn func() (<-chan batch.Batch, error)) (batch.Batch, error) {
	type result struct {
		ch  <-chan batch.Batch
		err error
	}
	reply := make(chan result, 1)
	select {
	case c.cmds <- func() {
		ch, err := fn()
		reply <- result{ch, err}
	}:
	case <-c.done:
		return batch.Batch{}, c.closedErr()
	case <-ctx.Done():
		return batch.Batch{}, ctx.Err()
	}

	var r result
	select {
	case r = <-reply:
	case <-c.done:
		return batch.Batch{}, c.closedErr()
	case <-ctx.Done():
		return batch.Batch{}, ctx.Err()
	}
	if r.err != nil {
		return batch.Batch{}, r.err
	}

	select {
	case b := <-r.ch:
		return b, nil
	default:
	}
	select {
	case b := <-r.ch:
		return b, nil
	case <-c.done:
		return batch.Batch{}, c.closedErr()
	case <-ctx.Done():
		return batch.Batch{}, ctx.Err()
	}
}

// --- public operations -----------------------------------------------------

// PushOuter admits one outer batch, splitting and routing it across
// windows as needed. An EOF batch signals the end of the outer stream.
func (c *Coordinator) PushOuter(ctx context.Context, b batch.Batch) error {
	return c.dispatch(ctx, func() (<-chan struct{}, error) { return c.handleOuterPush(b) })
}

// PullOuter returns the next finished batch, or the terminal EOF once
// every window has drained after the outer stream ended.
func (c *Coordinator) PullOuter(ctx context.Context) (batch.Batch, error) {
	return c.dispatchPull(ctx, func() (<-chan batch.Batch, error) { return c.outputs.Pull(), nil })
}

func (c *Coordinator) pullInner(ctx context.Context, id uint64) (batch.Batch, error) {
	return c.dispatchPull(ctx, func() (<-chan batch.Batch, error) { return c.handleInnerPull(id) })
}

func (c *Coordinator) pushInner(ctx context.Context, id uint64, b batch.Batch) error {
	return c.dispatch(ctx, func() (<-chan struct{}, error) { return c.handleInnerPush(id, b) })
}

// --- command handlers (run loop only) --------------------------------------

func (c *Coordinator) handleOuterPush(b batch.Batch) (<-chan struct{}, error) {
	if c.fatalErr != nil {
		return nil, c.fatalErr
	}
	if c.outerDone {
		return nil, fmt.Errorf("%w: outer stream already closed", ErrCoordinatorClosed)
	}
	if b.IsEOF() {
		c.outerDone = true
		c.rotate(true)
		return closedCompletion, nil
	}
	if c.cfg.Nonblocking && c.wouldBlock() {
		c.emitDiagnostic(diagnostic.Warning, diagnostic.KindNone, "window: dropping batch, no window has capacity", nil)
		return closedCompletion, nil
	}
	return c.admitBatch(b), nil
}

// wouldBlock reports whether admitting a batch right now would have to
// pend, in which case Nonblocking mode drops the batch instead. With no
// active window at all, admission would always fall back to the
// single-slot blocked backlog, which this module treats as already full
// for Nonblocking purposes: a config favoring drops over latency should
// never accumulate a backlog waiting for the next window to open.
func (c *Coordinator) wouldBlock() bool {
	w := c.activeWindow()
	if w == nil {
		return true
	}
	return w.inputs.WouldPend()
}

// admitBatch routes b to the active window, splitting it at the window's
// remaining size budget and rotating as each piece exhausts its window, or
// buffers it in the blocked-input backlog when no window can currently
// accept input. It always runs inside the command loop.
func (c *Coordinator) admitBatch(b batch.Batch) <-chan struct{} {
	remaining := b
	last := closedCompletion
	for remaining.Rows() > 0 {
		w := c.activeWindow()
		if w == nil {
			return c.blocked.Push(remaining)
		}
		var head, tail batch.Batch
		if w.unbounded || uint64(remaining.Rows()) <= w.remaining {
			head, tail = remaining, batch.EOF()
		} else {
			head, tail = remaining.Split(int(w.remaining))
		}
		last = w.inputs.Push(head)
		if c.cfg.IdleTimeout > 0 {
			c.rearmIdle(w)
		}
		exhausted := w.admit(uint64(head.Rows()))
		remaining = tail
		if exhausted {
			c.rotate(true)
		}
	}
	return last
}

func (c *Coordinator) handleInnerPull(id uint64) (<-chan batch.Batch, error) {
	el, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: pull from unknown window %d", ErrInternal, id)
	}
	return el.Value.(*windowInstance).inputs.Pull(), nil
}

func (c *Coordinator) handleInnerPush(id uint64, b batch.Batch) (<-chan struct{}, error) {
	if _, ok := c.byID[id]; !ok {
		return nil, fmt.Errorf("%w: push from unknown window %d", ErrInternal, id)
	}
	if b.IsEOF() {
		// A window's own terminal EOF never reaches the outer stream
		// directly; only the fully-drained operator's EOF does, from
		// finish(). Concurrently-stopping windows would otherwise race to
		// each contribute a spurious premature terminator.
		return closedCompletion, nil
	}
	return c.outputs.Push(b), nil
}

// --- window lifecycle --------------------------------------------------

func (c *Coordinator) activeWindow() *windowInstance {
	el := c.windows.Back()
	if el == nil {
		return nil
	}
	w := el.Value.(*windowInstance)
	if w.state == stopping {
		return nil
	}
	return w
}

func (c *Coordinator) liveCount() int {
	return c.windows.Len()
}

func (c *Coordinator) closeWindow(w *windowInstance) {
	w.state = stopping
	w.periodGen++
	w.idleGen++
	w.inputs.ForcePush(batch.EOF())
}

// rotate is the operator's single state-transition point. It is called
// whenever something might make the active window need to close
// (closeActive) or might free up room to open the next one: after a size
// budget is exhausted, on a period or idle timer fire, when the outer
// stream ends, on a deferred period-boundary wakeup, and when a window
// finishes draining.
func (c *Coordinator) rotate(closeActive bool) {
	if c.fatalErr != nil {
		return
	}
	if active := c.activeWindow(); active != nil && (closeActive || c.outerDone) {
		c.closeWindow(active)
	}

	switch {
	case c.outerDone && c.blocked.Len() == 0 && c.liveCount() == 0:
		c.finish()
	case c.outerDone && c.blocked.Len() == 0:
		// Still draining STOPPING windows; nothing new can open.
	case c.activeWindow() != nil:
		// A window is already accepting input.
	default:
		c.maybeStartWindow()
		if c.outerDone {
			// The outer stream has ended: a window opened only to take the
			// blocked-input backlog closes once it has taken its share.
			if w := c.activeWindow(); w != nil {
				c.closeWindow(w)
			}
		}
	}
	c.reportWindowGauge()
}

// maybeStartWindow implements steps 3-6 of the rotation algorithm: a new
// window is never opened ahead of the configured period boundary. A window
// closed early by size exhaustion or an idle timeout only reopens once
// nextStart is reached, exactly as a window that ran its full period would.
func (c *Coordinator) maybeStartWindow() {
	if c.cfg.Period > 0 {
		now := time.Now()
		if !c.cfg.Nonblocking && c.nextStart.Before(now) {
			// A prolonged gap (parallel saturation, or no input at all)
			// left nextStart behind now; pulling it forward to now avoids
			// bursting through every missed boundary at once.
			c.nextStart = now
		}
		if c.nextStart.After(now) {
			c.deferRotate(c.nextStart)
			return
		}
	}
	if c.liveCount() >= int(c.cfg.Parallel) {
		c.retryAfterWindowDone++
		return
	}
	c.startWindow()
}

// deferRotate schedules a no-argument rotate() at at, invalidating any
// previously scheduled deferral so only the most recent one can fire.
func (c *Coordinator) deferRotate(at time.Time) {
	c.rotateGen++
	gen := c.rotateGen
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		select {
		case c.cmds <- func() { c.handleDeferredRotate(gen) }:
		case <-c.done:
		}
	})
}

func (c *Coordinator) handleDeferredRotate(gen uint64) {
	if gen != c.rotateGen {
		return
	}
	c.rotate(false)
}

func (c *Coordinator) startWindow() {
	id := c.nextID
	c.nextID++

	w := newWindowInstance(id, c.cfg, windowInputCapacity)
	ctx, cancel := context.WithCancel(c.baseCtx)
	if c.cfg.ExecContext != nil {
		ctx = context.WithValue(ctx, execContextKey{}, c.cfg.ExecContext)
	}
	w.cancel = cancel

	pipe := c.buildInnerPipeline(id)
	// The inner pipeline's own output channel is drained by its SNK stage
	// via pushInner, not read here; an inner pipeline that is already
	// closed (no SNK appended) simply has nothing ever sent on it.
	exec, _, err := pipeline.Start(ctx, pipe)
	if err != nil {
		cancel()
		c.fail(fmt.Errorf("%w: %v", ErrStartFailed, err))
		return
	}
	w.state = running

	el := c.windows.PushBack(w)
	c.byID[id] = el

	if c.cfg.Period > 0 {
		c.nextStart = c.nextStart.Add(c.cfg.Period)
	}
	c.armTimers(w)
	if c.blocked.Len() > 0 {
		queued := <-c.blocked.Pull()
		c.admitBatch(queued)
	}

	go c.monitor(id, exec)
}

func (c *Coordinator) buildInnerPipeline(id uint64) *pipeline.Pipeline {
	ops := make([]pipeline.Operator, 0, len(c.cfg.Inner.Operators)+2)
	ops = append(ops, newSourceAdapter(c, id))
	ops = append(ops, c.cfg.Inner.Operators...)
	if !c.cfg.Inner.Closed() {
		ops = append(ops, newSinkAdapter(c, id))
	}
	return pipeline.New(ops...)
}

func (c *Coordinator) monitor(id uint64, exec *pipeline.Executor) {
	err := exec.Wait()
	select {
	case c.cmds <- func() { c.handleWindowDone(id, err) }:
	case <-c.done:
	}
}

func (c *Coordinator) handleWindowDone(id uint64, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		c.fail(fmt.Errorf("%w: %v", ErrInnerFailed, err))
		return
	}
	el, ok := c.byID[id]
	if !ok {
		return
	}
	c.windows.Remove(el)
	delete(c.byID, id)

	retry := c.retryAfterWindowDone > 0
	if retry {
		c.retryAfterWindowDone--
	}
	if retry || c.cfg.Period == 0 || c.outerDone {
		c.rotate(false)
	} else {
		c.reportWindowGauge()
	}
}

func (c *Coordinator) finish() {
	if c.finished {
		return
	}
	c.finished = true
	// Invalidate any in-flight deferred rotate: no more windows will ever
	// open once the terminal EOF has been enqueued.
	c.rotateGen++
	c.outputs.ForcePush(batch.EOF())
}

// --- timers ------------------------------------------------------------

func (c *Coordinator) armTimers(w *windowInstance) {
	if c.cfg.Period > 0 {
		id, gen := w.id, w.periodGen
		time.AfterFunc(time.Until(c.nextStart), func() {
			select {
			case c.cmds <- func() { c.handlePeriodFire(id, gen) }:
			case <-c.done:
			}
		})
	}
	if c.cfg.IdleTimeout > 0 {
		c.rearmIdle(w)
	}
}

func (c *Coordinator) rearmIdle(w *windowInstance) {
	w.idleGen++
	id, gen := w.id, w.idleGen
	time.AfterFunc(c.cfg.IdleTimeout, func() {
		select {
		case c.cmds <- func() { c.handleIdleFire(id, gen) }:
		case <-c.done:
		}
	})
}

func (c *Coordinator) handlePeriodFire(id, gen uint64) {
	el, ok := c.byID[id]
	if !ok {
		return
	}
	w := el.Value.(*windowInstance)
	if w.periodGen != gen || w.state == stopping {
		return
	}
	c.rotate(true)
}

func (c *Coordinator) handleIdleFire(id, gen uint64) {
	el, ok := c.byID[id]
	if !ok {
		return
	}
	w := el.Value.(*windowInstance)
	if w.idleGen != gen || w.state == stopping {
		return
	}
	c.rotate(true)
}
