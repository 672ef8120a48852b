package monitor

import (
	"fmt"
	"strings"
)

// Action is the policy applied when the watched app is found not running.
type Action int

const (
	// ActionContinueBot runs the recovery asynchronously and keeps watching.
	ActionContinueBot Action = iota

	// ActionClearStop stops the monitor and clears the run flag.
	ActionClearStop

	// ActionClearStopAndAdvance stops the monitor and clears the run flag
	// with the "advance to next queued bot" outcome.
	ActionClearStopAndAdvance
)

// String returns the canonical action name.
func (a Action) String() string {
	switch a {
	case ActionContinueBot:
		return "continue_bot"
	case ActionClearStop:
		return "clear_stop"
	case ActionClearStopAndAdvance:
		return "clear_stop_and_advance"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ParseAction converts a script or config name to an Action.
// Matching is case-insensitive; "-" and "_" are interchangeable.
func ParseAction(s string) (Action, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "continue_bot", "continue":
		return ActionContinueBot, nil
	case "clear_stop", "stop":
		return ActionClearStop, nil
	case "clear_stop_and_advance", "advance", "stop_and_next":
		return ActionClearStopAndAdvance, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}
