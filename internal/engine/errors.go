package engine

import "errors"

// Sentinel errors returned by the interpreter.
var (
	// ErrModuleExecution wraps any failure or panic inside a module. It
	// ends the current cycle; the run continues with the next one.
	ErrModuleExecution = errors.New("engine: module execution failed")

	// ErrNoCycleModules indicates a script with nothing to run per cycle.
	ErrNoCycleModules = errors.New("engine: script has no cycle modules")

	// ErrAlreadyRun indicates Run was called twice on one interpreter.
	ErrAlreadyRun = errors.New("engine: interpreter already run")
)
