package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements.
const (
	MeasurementImageSearch = "image_search"
	MeasurementCycle       = "cycle"
	MeasurementCrash       = "crash"
	MeasurementQueueJob    = "queue_job"
)

// WriteSearchMetric records one image-search decision. image is the
// matched template, or "" when nothing met the threshold.
func (c *Client) WriteSearchMetric(bot, image string, found bool, confidence float64, elapsed time.Duration) {
	c.write(searchPoint(bot, image, found, confidence, elapsed, time.Now()))
}

// WriteCycleMetric records a finished interpreter cycle.
func (c *Client) WriteCycleMetric(bot string, cycle int, elapsed time.Duration, failed bool) {
	c.write(cyclePoint(bot, cycle, elapsed, failed, time.Now()))
}

// WriteCrashMetric records a crash the monitor detected. dropped marks a
// crash that arrived while a recovery was already running.
func (c *Client) WriteCrashMetric(bot, pkg, action string, dropped bool) {
	c.write(crashPoint(bot, pkg, action, dropped, time.Now()))
}

// WriteQueueJobMetric records how a queued bot's worker ended.
func (c *Client) WriteQueueJobMetric(bot, result string, exitCode, pass int, elapsed time.Duration) {
	c.write(queueJobPoint(bot, result, exitCode, pass, elapsed, time.Now()))
}

func searchPoint(bot, image string, found bool, confidence float64, elapsed time.Duration, ts time.Time) *write.Point {
	if image == "" {
		image = "none"
	}
	return write.NewPoint(MeasurementImageSearch,
		map[string]string{"bot": bot, "image": image, "found": strconv.FormatBool(found)},
		map[string]interface{}{"confidence": confidence, "duration_ms": elapsed.Milliseconds()},
		ts)
}

func cyclePoint(bot string, cycle int, elapsed time.Duration, failed bool, ts time.Time) *write.Point {
	errs := 0
	if failed {
		errs = 1
	}
	return write.NewPoint(MeasurementCycle,
		map[string]string{"bot": bot},
		map[string]interface{}{"cycle": cycle, "duration_ms": elapsed.Milliseconds(), "errors": errs},
		ts)
}

func crashPoint(bot, pkg, action string, dropped bool, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementCrash,
		map[string]string{"bot": bot, "package": pkg, "action": action},
		map[string]interface{}{"count": 1, "dropped": dropped},
		ts)
}

func queueJobPoint(bot, result string, exitCode, pass int, elapsed time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementQueueJob,
		map[string]string{"bot": bot, "result": result},
		map[string]interface{}{"exit_code": exitCode, "pass": pass, "duration_ms": elapsed.Milliseconds()},
		ts)
}
