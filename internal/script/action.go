package script

import "time"

// Action kinds. Several have aliases accepted by the decoder.
const (
	ActionClick           = "click"
	ActionSwipe           = "swipe"
	ActionSleep           = "time_sleep"
	ActionTapLastFound    = "get_coords"
	ActionStop            = "stop_bot"
	ActionContinue        = "continue"
	ActionCloseApp        = "close_game"
	ActionLaunchApp       = "start_game"
	ActionRebootDevice    = "restart_emulator"
	ActionRestartFrom     = "restart_from"
	ActionRestartFromLast = "restart_from_last"
)

// Action is one primitive step inside a branch, a recovery list, or at
// the top level of a script.
type Action interface {
	Kind() string
	action()
}

// Click taps a point, then sleeps.
type Click struct {
	X, Y        int
	Sleep       time.Duration
	Description string
}

// Swipe drags between two points, then sleeps. A zero Duration uses the
// device default.
type Swipe struct {
	X1, Y1, X2, Y2 int
	Duration       time.Duration
	Sleep          time.Duration
	Description    string
}

// Sleep pauses the interpreter.
type Sleep struct {
	Duration time.Duration
}

// TapLastFound taps the centre of the current module's match.
type TapLastFound struct{}

// Stop clears the run flag.
type Stop struct{}

// Continue does nothing.
type Continue struct{}

// CloseApp force-stops the monitored package.
type CloseApp struct{}

// LaunchApp starts the monitored package.
type LaunchApp struct{}

// RebootDevice reboots the device and waits for it to return.
type RebootDevice struct{}

// RestartFrom makes the next cycle resume at Line.
type RestartFrom struct {
	Line int
}

// RestartFromLast makes the next cycle resume at the line that was
// executing when the action ran.
type RestartFromLast struct{}

func (Click) Kind() string           { return ActionClick }
func (Swipe) Kind() string           { return ActionSwipe }
func (Sleep) Kind() string           { return ActionSleep }
func (TapLastFound) Kind() string    { return ActionTapLastFound }
func (Stop) Kind() string            { return ActionStop }
func (Continue) Kind() string        { return ActionContinue }
func (CloseApp) Kind() string        { return ActionCloseApp }
func (LaunchApp) Kind() string       { return ActionLaunchApp }
func (RebootDevice) Kind() string    { return ActionRebootDevice }
func (RestartFrom) Kind() string     { return ActionRestartFrom }
func (RestartFromLast) Kind() string { return ActionRestartFromLast }

func (Click) action()           {}
func (Swipe) action()           {}
func (Sleep) action()           {}
func (TapLastFound) action()    {}
func (Stop) action()            {}
func (Continue) action()        {}
func (CloseApp) action()        {}
func (LaunchApp) action()       {}
func (RebootDevice) action()    {}
func (RestartFrom) action()     {}
func (RestartFromLast) action() {}
