package engine

import "sync/atomic"

// Stats counts what a run has done so far.
type Stats struct {
	Cycles            int64 `json:"cycles_completed"`
	Actions           int64 `json:"actions_executed"`
	Clicks            int64 `json:"clicks"`
	Swipes            int64 `json:"swipes"`
	ImagesFound       int64 `json:"images_found"`
	ImagesNotFound    int64 `json:"images_not_found"`
	Errors            int64 `json:"errors"`
	Crashes           int64 `json:"crashes"`
	Recoveries        int64 `json:"recoveries"`
	RecoveriesDropped int64 `json:"recoveries_dropped"`
}

// counters are the interpreter's live statistics. The recovery goroutine
// updates them concurrently with the main loop.
type counters struct {
	cycles         atomic.Int64
	actions        atomic.Int64
	clicks         atomic.Int64
	swipes         atomic.Int64
	imagesFound    atomic.Int64
	imagesNotFound atomic.Int64
	errors         atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Cycles:         c.cycles.Load(),
		Actions:        c.actions.Load(),
		Clicks:         c.clicks.Load(),
		Swipes:         c.swipes.Load(),
		ImagesFound:    c.imagesFound.Load(),
		ImagesNotFound: c.imagesNotFound.Load(),
		Errors:         c.errors.Load(),
	}
}
