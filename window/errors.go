package window

import "errors"

// Sentinel errors for the coordinator's fatal failure modes (spec.md §7).
// Callers should match with errors.Is: the coordinator usually wraps these
// with additional context via fmt.Errorf("%w: ...", ...), returns
// ErrCoordinatorClosed bare when it has stopped without a fatal error, and
// ErrConfigInvalid is reached through *ConfigError's Unwrap.
var (
	// ErrConfigInvalid is returned by Resolve when the configuration
	// violates one or more constraints of §4.E. The concrete violations
	// are available via the returned *ConfigError.
	ErrConfigInvalid = errors.New("window: invalid configuration")

	// ErrStartFailed means an inner pipeline instance refused to start.
	// Fatal: terminates the whole operator.
	ErrStartFailed = errors.New("window: inner pipeline failed to start")

	// ErrInnerFailed means an inner pipeline instance failed mid-flight.
	// Fatal: terminates the whole operator.
	ErrInnerFailed = errors.New("window: inner pipeline executor failed")

	// ErrCoordinatorClosed is returned by any coordinator operation issued
	// after the coordinator has terminated, for any reason.
	ErrCoordinatorClosed = errors.New("window: coordinator is closed")

	// ErrInternal marks an invariant violation caught at the actor
	// boundary (a recovered panic), converted to a fatal diagnostic.
	ErrInternal = errors.New("window: internal error")
)
