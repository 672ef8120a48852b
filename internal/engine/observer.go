package engine

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/droidpilot/internal/monitor"
)

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID     uuid.UUID
	Bot       string
	Script    string
	Serial    string
	StartedAt time.Time
}

// SearchEvent describes one finished image-search module.
type SearchEvent struct {
	RunID uuid.UUID
	Bot   string
	Line  int

	Images []string

	// Image is the found image, or "" when nothing was found.
	Image string
	Found bool

	// Location is the centre of the match, nil when nothing was found.
	Location *image.Point

	// Confidence is the found image's score, or the best score seen
	// across all polls when nothing was found.
	Confidence float64

	Polls    int
	Duration time.Duration
	At       time.Time
}

// CycleEvent describes one finished cycle.
type CycleEvent struct {
	RunID    uuid.UUID
	Bot      string
	Cycle    int
	Duration time.Duration

	// Err is the module failure that ended the cycle early, if any.
	Err error

	Stats Stats
}

// CrashEvent is a monitor crash detection tagged with its run.
type CrashEvent struct {
	RunID uuid.UUID
	Bot   string
	monitor.CrashEvent
}

// Observer receives run lifecycle events. Methods are called
// synchronously; CrashDetected is called from the monitor goroutine, so
// implementations must be safe for concurrent use and must not block.
type Observer interface {
	RunStarted(RunInfo)
	SearchCompleted(SearchEvent)
	CycleCompleted(CycleEvent)
	CrashDetected(CrashEvent)
	RunFinished(Result, error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo)          {}
func (NopObserver) SearchCompleted(SearchEvent) {}
func (NopObserver) CycleCompleted(CycleEvent)   {}
func (NopObserver) CrashDetected(CrashEvent)    {}
func (NopObserver) RunFinished(Result, error)   {}

// Observers fans every event out to each observer in order.
type Observers []Observer

func (o Observers) RunStarted(info RunInfo) {
	for _, obs := range o {
		obs.RunStarted(info)
	}
}

func (o Observers) SearchCompleted(e SearchEvent) {
	for _, obs := range o {
		obs.SearchCompleted(e)
	}
}

func (o Observers) CycleCompleted(e CycleEvent) {
	for _, obs := range o {
		obs.CycleCompleted(e)
	}
}

func (o Observers) CrashDetected(e CrashEvent) {
	for _, obs := range o {
		obs.CrashDetected(e)
	}
}

func (o Observers) RunFinished(res Result, err error) {
	for _, obs := range o {
		obs.RunFinished(res, err)
	}
}
