package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/tenzir/windowpipe/pipeline"
)

// Config is the user-facing, unresolved configuration for a window
// operator instance. Every tunable is a pointer so that "unset" and
// "explicitly zero" are distinguishable, mirroring the located<T>
// optionals of the argument parser this operator was modeled on.
type Config struct {
	// WindowSize caps the number of rows routed to a single window before
	// it must rotate. Unset means unbounded (the window only rotates on
	// period, idle timeout, or outer EOF).
	WindowSize *uint64

	// Period, if set, forces a rotation every fixed interval regardless of
	// how many rows have arrived, including none at all.
	Period *time.Duration

	// IdleTimeout, if set, rotates the active window once no input has
	// arrived for this long. Must be strictly smaller than Period when
	// both are set.
	IdleTimeout *time.Duration

	// Parallel bounds how many windows may be live (the active one plus
	// any STOPPING ones still draining their inner pipeline) at once.
	// Unset defaults to 1.
	Parallel *uint64

	// Nonblocking, if true, makes outer pushes fail fast (dropping the
	// batch) instead of queueing when no window is open to accept input
	// or the active window's input queue is full.
	Nonblocking *bool

	// Inner is the sub-pipeline run once per window.
	Inner *pipeline.Pipeline

	// ExecContext is opaque state threaded through to every inner
	// pipeline instance verbatim, standing in for attributes the original
	// execution node carried (terminal-ness, hiddenness, and similar
	// execution context) that this module has no concrete model for.
	ExecContext any
}

// ResolvedConfig is the validated, defaulted configuration the
// coordinator actually runs with.
type ResolvedConfig struct {
	Unbounded   bool
	WindowSize  uint64
	Period      time.Duration
	IdleTimeout time.Duration
	Parallel    uint64
	Nonblocking bool
	Inner       *pipeline.Pipeline
	ExecContext any
}

// Violation describes a single broken configuration constraint.
type Violation struct {
	Field   string
	Message string
}

// ConfigError aggregates every Violation found by Resolve. Validation does
// not fail fast: a caller fixing a typo'd config gets every problem in one
// pass instead of one rejection at a time.
type ConfigError struct {
	Violations []Violation
}

func (e *ConfigError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("%s (%s)", ErrConfigInvalid, strings.Join(parts, "; "))
}

func (e *ConfigError) Unwrap() error { return ErrConfigInvalid }

// Resolve validates cfg against the constraints of the window operator and
// returns the defaulted ResolvedConfig it implies. On any violation it
// returns a zero ResolvedConfig and a *ConfigError wrapping ErrConfigInvalid.
func Resolve(cfg Config) (ResolvedConfig, error) {
	var violations []Violation

	if cfg.WindowSize == nil && cfg.Period == nil && cfg.IdleTimeout == nil {
		violations = append(violations, Violation{
			Field:   "window_size/timeout/idle_timeout",
			Message: "at least one of window_size, timeout, or idle_timeout must be given",
		})
	}
	if cfg.WindowSize != nil && *cfg.WindowSize < 1 {
		violations = append(violations, Violation{
			Field:   "window_size",
			Message: "must be at least 1",
		})
	}
	if cfg.Period != nil && *cfg.Period <= 0 {
		violations = append(violations, Violation{
			Field:   "timeout",
			Message: "must be a positive duration",
		})
	}
	if cfg.IdleTimeout != nil && *cfg.IdleTimeout <= 0 {
		violations = append(violations, Violation{
			Field:   "idle_timeout",
			Message: "must be a positive duration",
		})
	}
	if cfg.Period != nil && cfg.IdleTimeout != nil && *cfg.Period <= *cfg.IdleTimeout {
		violations = append(violations, Violation{
			Field:   "timeout",
			Message: "must be greater than idle_timeout",
		})
	}
	if cfg.Parallel != nil && *cfg.Parallel < 1 {
		violations = append(violations, Violation{
			Field:   "parallel",
			Message: "must be at least 1",
		})
	}
	if cfg.Inner == nil {
		violations = append(violations, Violation{
			Field:   "pipe",
			Message: "an inner pipeline is required",
		})
	}

	if len(violations) > 0 {
		return ResolvedConfig{}, &ConfigError{Violations: violations}
	}

	resolved := ResolvedConfig{
		Nonblocking: cfg.Nonblocking != nil && *cfg.Nonblocking,
		Inner:       cfg.Inner,
		ExecContext: cfg.ExecContext,
		Parallel:    1,
	}
	if cfg.WindowSize == nil {
		resolved.Unbounded = true
	} else {
		resolved.WindowSize = *cfg.WindowSize
	}
	if cfg.Period != nil {
		resolved.Period = *cfg.Period
	}
	if cfg.IdleTimeout != nil {
		resolved.IdleTimeout = *cfg.IdleTimeout
	}
	if cfg.Parallel != nil {
		resolved.Parallel = *cfg.Parallel
	}
	return resolved, nil
}
