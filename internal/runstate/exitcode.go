package runstate

// Process exit codes of `droidpilot run`. The queue reads them back from
// its workers.
const (
	ExitOK      = 0
	ExitFailure = 1

	// ExitAdvance asks the queue to replace this bot with the next one.
	ExitAdvance = 42
)
