package process

import (
	"errors"
	"io/fs"
	"os/exec"
)

var (
	// ErrAlreadyRunning is returned by Start while a process is running.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrHealthCheckFailed wraps the exit of a process killed by the watchdog.
	ErrHealthCheckFailed = errors.New("health check failed")
)

// RecoverableError is implemented by errors that know whether retrying
// can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err may go away on retry. Errors that do
// not implement RecoverableError are assumed recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// startError is a failure to launch the binary at all.
type startError struct {
	name string
	err  error
}

func (e *startError) Error() string {
	return "starting " + e.name + ": " + e.err.Error()
}

func (e *startError) Unwrap() error { return e.err }

// IsRecoverable is false when the binary does not exist; retrying cannot
// fix a bad path.
func (e *startError) IsRecoverable() bool {
	return !errors.Is(e.err, exec.ErrNotFound) && !errors.Is(e.err, fs.ErrNotExist)
}
