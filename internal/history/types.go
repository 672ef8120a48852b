package history

import (
	"time"

	"github.com/google/uuid"
)

// Run is one interpreter run as stored in the runs table.
type Run struct {
	ID           uuid.UUID
	Bot          string
	Script       string
	DeviceSerial string
	StartedAt    time.Time

	// FinishedAt, Outcome and Error are empty while the run is in progress.
	FinishedAt *time.Time
	Outcome    string
	Error      string

	Totals Totals
}

// Totals are the run's final counters.
type Totals struct {
	Cycles            int64
	Actions           int64
	Clicks            int64
	Swipes            int64
	ImagesFound       int64
	ImagesNotFound    int64
	Errors            int64
	Crashes           int64
	Recoveries        int64
	RecoveriesDropped int64
}

// Cycle is one completed cycle.
type Cycle struct {
	RunID     uuid.UUID
	Cycle     int
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// Crash is one crash monitor detection.
type Crash struct {
	RunID      uuid.UUID
	Package    string
	Line       int
	Action     string
	Dropped    bool
	DetectedAt time.Time
}

// Search is one finished image-search module.
type Search struct {
	RunID      uuid.UUID
	Module     int
	Image      string
	Found      bool
	Confidence float64

	// X and Y are set only when Found.
	X, Y *int

	Polls      int
	Duration   time.Duration
	SearchedAt time.Time
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Bot   string
	Limit int
}
