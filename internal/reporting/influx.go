package reporting

import (
	"time"

	"github.com/nerrad567/droidpilot/internal/engine"
)

// MetricWriter is the subset of influxdb.Client the Influx reporter needs.
type MetricWriter interface {
	WriteSearchMetric(bot, image string, found bool, confidence float64, elapsed time.Duration)
	WriteCycleMetric(bot string, cycle int, elapsed time.Duration, failed bool)
	WriteCrashMetric(bot, pkg, action string, dropped bool)
	Flush()
}

// InfluxReporter writes search, cycle and crash metrics. Writes are
// batched by the client; RunFinished flushes them.
type InfluxReporter struct {
	engine.NopObserver

	w MetricWriter
}

// NewInfluxReporter creates a reporter writing through w.
func NewInfluxReporter(w MetricWriter) *InfluxReporter {
	return &InfluxReporter{w: w}
}

func (r *InfluxReporter) SearchCompleted(e engine.SearchEvent) {
	r.w.WriteSearchMetric(e.Bot, e.Image, e.Found, e.Confidence, e.Duration)
}

func (r *InfluxReporter) CycleCompleted(e engine.CycleEvent) {
	r.w.WriteCycleMetric(e.Bot, e.Cycle, e.Duration, e.Err != nil)
}

func (r *InfluxReporter) CrashDetected(e engine.CrashEvent) {
	r.w.WriteCrashMetric(e.Bot, e.Package, e.Action.String(), e.Dropped)
}

func (r *InfluxReporter) RunFinished(engine.Result, error) {
	r.w.Flush()
}
