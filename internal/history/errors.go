package history

import "errors"

var (
	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished is returned when finishing a run twice.
	ErrRunFinished = errors.New("run already finished")
)
