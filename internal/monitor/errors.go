package monitor

import "errors"

// Sentinel errors returned by the monitor.
var (
	// ErrUnknownAction indicates a crash action name could not be parsed.
	ErrUnknownAction = errors.New("monitor: unknown crash action")

	// ErrNoPackage indicates Start was called without a package to watch.
	ErrNoPackage = errors.New("monitor: no package configured")

	// ErrNoRecovery indicates ContinueBot was requested without a recovery.
	ErrNoRecovery = errors.New("monitor: continue_bot requires a recovery")
)
