package device

import "errors"

// Domain-specific errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when the configured device is not attached.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrTransport is returned when an adb command exits non-zero or cannot be run.
	ErrTransport = errors.New("device: transport failed")

	// ErrTimeout is returned when an adb command exceeds its deadline.
	ErrTimeout = errors.New("device: command timed out")

	// ErrCapture is returned when a screenshot cannot be obtained or decoded.
	ErrCapture = errors.New("device: screen capture failed")
)
