// Package diagnostic defines the external diagnostic sink collaborator of
// the window operator: the interface inner pipelines and the coordinator
// itself use to surface user-visible problems without necessarily
// terminating.
package diagnostic

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Severity classifies a Diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Kind further classifies an Error-severity Diagnostic, matching the error
// kinds enumerated in the error handling design.
type Kind int

const (
	// KindNone applies to non-fatal diagnostics.
	KindNone Kind = iota
	KindConfiguration
	KindStart
	KindRuntime
	KindQueueCommunication
	KindInternal
)

// Diagnostic is one entry emitted to a Handler.
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	Message  string
	Err      error
	// Operator names the operator this diagnostic concerns, e.g. "window".
	Operator string
}

func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", d.Severity, d.Operator, d.Message, d.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Operator, d.Message)
}

// Handler receives diagnostics. Implementations must be safe for concurrent
// use: the window coordinator and every inner pipeline instance may emit to
// it concurrently.
type Handler interface {
	Emit(Diagnostic)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(Diagnostic)

func (f HandlerFunc) Emit(d Diagnostic) { f(d) }

// Nop discards every diagnostic.
var Nop Handler = HandlerFunc(func(Diagnostic) {})

// ZapHandler forwards diagnostics to a *zap.Logger at a level derived from
// Severity, matching the ambient logging stack used throughout this module.
type ZapHandler struct {
	Logger *zap.Logger
}

func (z ZapHandler) Emit(d Diagnostic) {
	logger := z.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{zap.String("operator", d.Operator)}
	if d.Err != nil {
		fields = append(fields, zap.Error(d.Err))
	}
	switch d.Severity {
	case Error:
		logger.Error(d.Message, fields...)
	case Warning:
		logger.Warn(d.Message, fields...)
	default:
		logger.Info(d.Message, fields...)
	}
}

// CollectingHandler buffers every diagnostic it receives, for tests that
// need to assert on forwarded diagnostics.
type CollectingHandler struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (c *CollectingHandler) Emit(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

// Items returns a snapshot of the diagnostics collected so far.
func (c *CollectingHandler) Items() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}
