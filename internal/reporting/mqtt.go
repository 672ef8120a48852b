package reporting

import (
	"time"

	"github.com/nerrad567/droidpilot/internal/engine"
	"github.com/nerrad567/droidpilot/internal/infrastructure/mqtt"
)

// Bot status values published on the retained status topic.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// Publisher is the subset of mqtt.Client the MQTT reporter needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// StatusMessage is the retained payload on droidpilot/bot/{bot}/status.
type StatusMessage struct {
	Status    string        `json:"status"`
	RunID     string        `json:"run_id"`
	Script    string        `json:"script,omitempty"`
	Serial    string        `json:"serial,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
	Stats     *engine.Stats `json:"stats,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// SearchMessage is published on droidpilot/bot/{bot}/event/search.
type SearchMessage struct {
	RunID      string    `json:"run_id"`
	Line       int       `json:"line"`
	Images     []string  `json:"images"`
	Image      string    `json:"image,omitempty"`
	Found      bool      `json:"found"`
	Confidence float64   `json:"confidence"`
	X          *int      `json:"x,omitempty"`
	Y          *int      `json:"y,omitempty"`
	Polls      int       `json:"polls"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// CrashMessage is published on droidpilot/bot/{bot}/event/crash.
type CrashMessage struct {
	RunID     string    `json:"run_id"`
	Package   string    `json:"package"`
	Line      int       `json:"line"`
	Action    string    `json:"action"`
	Dropped   bool      `json:"dropped"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsMessage is published on droidpilot/bot/{bot}/stats after each cycle.
type StatsMessage struct {
	RunID string `json:"run_id"`
	Cycle int    `json:"cycle"`
	engine.Stats
	LastError string    `json:"last_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTReporter publishes run events to the droidpilot topic tree.
type MQTTReporter struct {
	engine.NopObserver

	pub    Publisher
	topics mqtt.Topics
	logger Logger
}

// NewMQTTReporter creates a reporter publishing through pub.
func NewMQTTReporter(pub Publisher) *MQTTReporter {
	return &MQTTReporter{pub: pub, logger: noopLogger{}}
}

// SetLogger sets the logger for publish failures.
func (r *MQTTReporter) SetLogger(logger Logger) {
	r.logger = logger
}

func (r *MQTTReporter) RunStarted(info engine.RunInfo) {
	r.publish(r.topics.BotStatus(info.Bot), StatusMessage{
		Status:    StatusRunning,
		RunID:     info.RunID.String(),
		Script:    info.Script,
		Serial:    info.Serial,
		Timestamp: info.StartedAt.UTC(),
	}, true)
}

func (r *MQTTReporter) SearchCompleted(e engine.SearchEvent) {
	msg := SearchMessage{
		RunID:      e.RunID.String(),
		Line:       e.Line,
		Images:     e.Images,
		Image:      e.Image,
		Found:      e.Found,
		Confidence: e.Confidence,
		Polls:      e.Polls,
		ElapsedMS:  e.Duration.Milliseconds(),
		Timestamp:  e.At.UTC(),
	}
	if e.Location != nil {
		x, y := e.Location.X, e.Location.Y
		msg.X, msg.Y = &x, &y
	}
	r.publish(r.topics.BotEvent(e.Bot, "search"), msg, false)
}

func (r *MQTTReporter) CycleCompleted(e engine.CycleEvent) {
	msg := StatsMessage{
		RunID:     e.RunID.String(),
		Cycle:     e.Cycle,
		Stats:     e.Stats,
		Timestamp: time.Now().UTC(),
	}
	if e.Err != nil {
		msg.LastError = e.Err.Error()
	}
	r.publish(r.topics.BotStats(e.Bot), msg, false)
}

func (r *MQTTReporter) CrashDetected(e engine.CrashEvent) {
	r.publish(r.topics.BotEvent(e.Bot, "crash"), CrashMessage{
		RunID:     e.RunID.String(),
		Package:   e.Package,
		Line:      e.Line,
		Action:    e.Action.String(),
		Dropped:   e.Dropped,
		Timestamp: e.DetectedAt.UTC(),
	}, false)
}

func (r *MQTTReporter) RunFinished(res engine.Result, err error) {
	msg := StatusMessage{
		Status:    StatusFinished,
		RunID:     res.RunID.String(),
		Outcome:   res.Outcome.String(),
		Stats:     &res.Stats,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	r.publish(r.topics.BotStatus(res.Bot), msg, true)
}

func (r *MQTTReporter) publish(topic string, v any, retained bool) {
	if err := r.pub.PublishJSON(topic, v, retained); err != nil {
		r.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}
