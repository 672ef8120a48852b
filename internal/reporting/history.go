package reporting

import (
	"context"
	"time"

	"github.com/nerrad567/droidpilot/internal/engine"
	"github.com/nerrad567/droidpilot/internal/history"
)

// historyWriteTimeout bounds each history write so a locked database
// cannot stall the interpreter.
const historyWriteTimeout = 5 * time.Second

// HistoryReporter records runs in the SQLite history store.
type HistoryReporter struct {
	repo   history.Repository
	logger Logger
}

// NewHistoryReporter creates a reporter writing to repo.
func NewHistoryReporter(repo history.Repository) *HistoryReporter {
	return &HistoryReporter{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for write failures.
func (r *HistoryReporter) SetLogger(logger Logger) {
	r.logger = logger
}

func (r *HistoryReporter) RunStarted(info engine.RunInfo) {
	r.write("run", func(ctx context.Context) error {
		return r.repo.CreateRun(ctx, &history.Run{
			ID:           info.RunID,
			Bot:          info.Bot,
			Script:       info.Script,
			DeviceSerial: info.Serial,
			StartedAt:    info.StartedAt,
		})
	})
}

func (r *HistoryReporter) SearchCompleted(e engine.SearchEvent) {
	s := history.Search{
		RunID:      e.RunID,
		Module:     e.Line,
		Image:      e.Image,
		Found:      e.Found,
		Confidence: e.Confidence,
		Polls:      e.Polls,
		Duration:   e.Duration,
		SearchedAt: e.At,
	}
	if e.Location != nil {
		x, y := e.Location.X, e.Location.Y
		s.X, s.Y = &x, &y
	}
	r.write("search", func(ctx context.Context) error {
		return r.repo.RecordSearch(ctx, s)
	})
}

func (r *HistoryReporter) CycleCompleted(e engine.CycleEvent) {
	c := history.Cycle{
		RunID:     e.RunID,
		Cycle:     e.Cycle,
		StartedAt: time.Now().Add(-e.Duration),
		Duration:  e.Duration,
	}
	if e.Err != nil {
		c.Error = e.Err.Error()
	}
	r.write("cycle", func(ctx context.Context) error {
		return r.repo.RecordCycle(ctx, c)
	})
}

func (r *HistoryReporter) CrashDetected(e engine.CrashEvent) {
	r.write("crash", func(ctx context.Context) error {
		return r.repo.RecordCrash(ctx, history.Crash{
			RunID:      e.RunID,
			Package:    e.Package,
			Line:       e.Line,
			Action:     e.Action.String(),
			Dropped:    e.Dropped,
			DetectedAt: e.DetectedAt,
		})
	})
}

func (r *HistoryReporter) RunFinished(res engine.Result, err error) {
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	s := res.Stats
	totals := history.Totals{
		Cycles:            s.Cycles,
		Actions:           s.Actions,
		Clicks:            s.Clicks,
		Swipes:            s.Swipes,
		ImagesFound:       s.ImagesFound,
		ImagesNotFound:    s.ImagesNotFound,
		Errors:            s.Errors,
		Crashes:           s.Crashes,
		Recoveries:        s.Recoveries,
		RecoveriesDropped: s.RecoveriesDropped,
	}
	r.write("run finish", func(ctx context.Context) error {
		return r.repo.FinishRun(ctx, res.RunID, res.StartedAt.Add(res.Duration), res.Outcome.String(), errMsg, totals)
	})
}

func (r *HistoryReporter) write(what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Warn("history write failed", "record", what, "error", err)
	}
}
