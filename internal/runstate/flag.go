package runstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome records why a run ended.
type Outcome int

const (
	// OutcomeNone means the flag has not been cleared.
	OutcomeNone Outcome = iota

	// OutcomeCompleted means the run reached a configured limit.
	OutcomeCompleted

	// OutcomeStopped means a stop action, crash policy, signal or remote
	// command halted the run.
	OutcomeStopped

	// OutcomeAdvance means the run should be replaced by the next queued bot.
	OutcomeAdvance
)

// String returns the outcome name used in logs, MQTT and run history.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeStopped:
		return "stopped"
	case OutcomeAdvance:
		return "advance"
	default:
		return "none"
	}
}

// Flag is the cooperative stop signal shared by the interpreter, the crash
// monitor and remote control. It starts set; the first Clear wins and
// records the Outcome.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Flag struct {
	running atomic.Bool

	mu      sync.Mutex
	outcome Outcome
	done    chan struct{}
}

// New returns a set flag.
func New() *Flag {
	f := &Flag{done: make(chan struct{})}
	f.running.Store(true)
	return f
}

// Running reports whether the flag is still set.
func (f *Flag) Running() bool {
	return f.running.Load()
}

// Clear unsets the flag with outcome o. It returns false if the flag was
// already cleared, in which case the earlier outcome is kept.
func (f *Flag) Clear(o Outcome) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running.Load() {
		return false
	}
	f.outcome = o
	f.running.Store(false)
	close(f.done)
	return true
}

// Done returns a channel closed when the flag is cleared.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}

// Outcome returns the outcome recorded by the winning Clear, or
// OutcomeNone while the flag is set.
func (f *Flag) Outcome() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Sleep waits for d. It returns false early if the flag is cleared or ctx
// ends, and true if the full duration elapsed with the flag still set.
func (f *Flag) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return f.Running() && ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return f.Running()
	case <-f.done:
		return false
	case <-ctx.Done():
		return false
	}
}
