package script

import (
	"time"

	"github.com/nerrad567/droidpilot/internal/monitor"
)

// Module kinds as they appear in the "type" field. Action modules use
// their action's kind.
const (
	KindActivity    = "activity"
	KindImageSearch = "image_search"
)

// Defaults applied when a field is omitted.
const (
	DefaultSearchTimeout = 10 * time.Second
	DefaultStartupDelay  = time.Second
)

// Script is a decoded bot: an ordered module list plus metadata.
// Lines are 1-based module positions.
type Script struct {
	Name string

	// ImagesDir is resolved relative to the script file by Load.
	ImagesDir string

	Modules []Module

	// Warnings lists non-fatal problems found while decoding, such as
	// malformed line ranges that were skipped.
	Warnings []string
}

// Activity returns the first enabled activity module, or nil.
func (s *Script) Activity() *Activity {
	for _, m := range s.Modules {
		if a, ok := m.(*Activity); ok && a.Enabled {
			return a
		}
	}
	return nil
}

// Module is one step of a script. The concrete types are *Activity,
// *ImageSearch and *ActionModule.
type Module interface {
	Kind() string
	module()
}

// Activity configures app launch and crash monitoring. It runs once
// before the first cycle.
type Activity struct {
	Enabled bool

	// Package is the Android package to launch and watch.
	Package string

	// LaunchActivity optionally names the activity to start
	// (".MainActivity" is relative to Package).
	LaunchActivity string

	// Launch starts the app during setup.
	Launch bool

	StartupDelay time.Duration

	// CrashAction is applied when the app is found not running.
	CrashAction monitor.Action

	// Lines restricts crash checks to these interpreter lines.
	Lines []monitor.LineRange

	// CheckInterval overrides the configured monitor check interval.
	CheckInterval time.Duration

	// Recovery runs for CrashAction continue_bot.
	Recovery []Action
}

// ImageSearch polls for any of Images until one is found or Timeout
// elapses, then runs the first matching clause or the not-found branch.
type ImageSearch struct {
	Images  []string
	Timeout time.Duration

	// Threshold overrides the matcher default when > 0.
	Threshold float64

	// Clauses are tried in declaration order; the first match wins.
	Clauses []Clause

	// NotFound runs when nothing was found. Nil means do nothing.
	NotFound *Branch
}

// Clause is one found-branch. An empty Image matches any found image.
type Clause struct {
	Image  string
	Branch Branch
}

// Matches reports whether the clause applies to the found image.
func (c Clause) Matches(found string) bool {
	return c.Image == "" || c.Image == found
}

// Branch is an ordered action list with an optional message logged when
// it fires.
type Branch struct {
	LogEvent string
	Actions  []Action
}

// ActionModule is a bare action at the top level of a script.
type ActionModule struct {
	Action Action
}

func (*Activity) Kind() string       { return KindActivity }
func (*ImageSearch) Kind() string    { return KindImageSearch }
func (m *ActionModule) Kind() string { return m.Action.Kind() }

func (*Activity) module()     {}
func (*ImageSearch) module()  {}
func (*ActionModule) module() {}
