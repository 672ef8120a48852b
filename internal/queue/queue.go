package queue

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/droidpilot/internal/infrastructure/mqtt"
	"github.com/nerrad567/droidpilot/internal/process"
	"github.com/nerrad567/droidpilot/internal/runstate"
)

// Defaults applied by New.
const (
	DefaultRepeatDelay    = 5 * time.Second
	DefaultStatusInterval = 30 * time.Second
)

// Result values recorded per job.
const (
	ResultCompleted = "completed"
	ResultAdvanced  = "advanced"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Job is one queued bot.
type Job struct {
	Name      string
	Script    string
	MaxCycles int

	// MaxTime is in minutes, as on the run command line.
	MaxTime int
}

// Config configures a Runner.
type Config struct {
	Jobs []Job

	// Repeat starts over from the first job after the last one.
	Repeat bool

	// StopOnFailure ends the queue when a worker exits with a failure code.
	StopOnFailure bool

	// Binary is the droidpilot executable workers are started from.
	Binary string

	// BaseArgs precede the run subcommand, e.g. ["--config", path].
	BaseArgs []string

	// Output receives worker stdout and stderr.
	Output io.Writer

	GracefulTimeout time.Duration

	// HealthCheck runs every HealthCheckInterval while a worker is up;
	// repeated failures kill the worker. Nil disables the watchdog.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration

	// RepeatDelay is the pause between passes. Default: 5s.
	RepeatDelay time.Duration

	// Retries restarts a failed worker up to this many consecutive times
	// before the job counts as failed. RetryDelay is the base backoff.
	Retries    int
	RetryDelay time.Duration

	// StatusInterval is how often a running worker's status is
	// republished. Default: 30s.
	StatusInterval time.Duration
}

// JobResult records how one worker ended.
type JobResult struct {
	Job      Job           `json:"-"`
	Name     string        `json:"name"`
	Pass     int           `json:"pass"`
	ExitCode int           `json:"exit_code"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Restarts int           `json:"restarts"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary is returned by Run.
type Summary struct {
	Passes int
	Jobs   []JobResult
}

// Publisher is the subset of mqtt.Client used for queue status.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// PointWriter is the subset of influxdb.Client used for job metrics.
type PointWriter interface {
	WriteQueueJobMetric(bot, result string, exitCode, pass int, elapsed time.Duration)
}

// Logger defines the logging interface for the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusMessage is the retained payload on droidpilot/queue/status.
type StatusMessage struct {
	State     string         `json:"state"`
	Pass      int            `json:"pass"`
	Index     int            `json:"index"`
	Total     int            `json:"total"`
	Current   string         `json:"current,omitempty"`
	Worker    *process.Stats `json:"worker,omitempty"`
	Last      *JobResult     `json:"last,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Runner executes queued bots one at a time, each as a child process.
//
// A worker exiting 0 (limits reached, stopped) or 42 (advance) moves the
// queue on. Any other exit is restarted up to Retries times, then counts
// as a failure: with StopOnFailure the queue ends with ErrJobFailed,
// otherwise it moves on. A worker binary that cannot be launched at all
// ends the queue with ErrWorkerUnavailable.
type Runner struct {
	cfg    Config
	logger Logger
	pub    Publisher
	points PointWriter

	mu      sync.Mutex
	current *process.Manager
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.RepeatDelay <= 0 {
		cfg.RepeatDelay = DefaultRepeatDelay
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	return &Runner{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the runner and its workers.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher enables queue status messages.
func (r *Runner) SetPublisher(pub Publisher) {
	r.pub = pub
}

// SetPointWriter enables per-job metrics.
func (r *Runner) SetPointWriter(w PointWriter) {
	r.points = w
}

// Current returns statistics for the running worker, if any.
func (r *Runner) Current() (process.Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return process.Stats{}, false
	}
	return r.current.Stats(), true
}

// Run works through the queue until it ends, a failure stops it, or ctx
// is cancelled. Cancellation stops the running worker gracefully and is
// not an error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if len(r.cfg.Jobs) == 0 {
		return sum, ErrNoJobs
	}

	for pass := 1; ; pass++ {
		sum.Passes = pass
		r.logger.Info("queue pass started", "pass", pass, "jobs", len(r.cfg.Jobs))

		for i, job := range r.cfg.Jobs {
			if ctx.Err() != nil {
				r.publishStatus("cancelled", pass, i, nil, nil, lastOf(sum))
				return sum, nil
			}

			res, err := r.runJob(ctx, pass, i, job)
			sum.Jobs = append(sum.Jobs, res)
			r.recordMetric(res)
			if err != nil {
				r.publishStatus("failed", pass, i, nil, nil, &res)
				return sum, err
			}

			switch res.Result {
			case ResultCancelled:
				r.publishStatus("cancelled", pass, i, nil, nil, &res)
				return sum, nil
			case ResultFailed:
				if r.cfg.StopOnFailure {
					r.publishStatus("failed", pass, i, nil, nil, &res)
					return sum, fmt.Errorf("%w: %s exited %d", ErrJobFailed, res.Name, res.ExitCode)
				}
				r.logger.Warn("queued bot failed, moving on", "bot", res.Name, "exit_code", res.ExitCode)
			}
		}

		if !r.cfg.Repeat {
			r.publishStatus("finished", pass, len(r.cfg.Jobs), nil, nil, lastOf(sum))
			r.logger.Info("queue finished", "passes", pass, "jobs_run", len(sum.Jobs))
			return sum, nil
		}

		select {
		case <-ctx.Done():
			r.publishStatus("cancelled", pass, len(r.cfg.Jobs), nil, nil, lastOf(sum))
			return sum, nil
		case <-time.After(r.cfg.RepeatDelay):
		}
	}
}

// runJob starts one worker and waits for it. The error is non-nil only
// when the worker binary cannot be launched at all.
func (r *Runner) runJob(ctx context.Context, pass, index int, job Job) (JobResult, error) {
	name := job.Name
	if name == "" {
		name = job.Script
	}
	res := JobResult{Job: job, Name: name, Pass: pass, ExitCode: -1, Started: time.Now()}

	var mgr *process.Manager
	mgr = process.NewManager(process.Config{
		Name:                name,
		Binary:              r.cfg.Binary,
		Args:                r.workerArgs(job),
		Output:              r.cfg.Output,
		SuccessExitCodes:    []int{runstate.ExitOK, runstate.ExitAdvance},
		RestartOnFailure:    r.cfg.Retries > 0,
		MaxRestartAttempts:  r.cfg.Retries,
		RestartDelay:        r.cfg.RetryDelay,
		GracefulTimeout:     r.cfg.GracefulTimeout,
		HealthCheckFunc:     r.cfg.HealthCheck,
		HealthCheckInterval: r.cfg.HealthCheckInterval,
		OnStart: func(int) {
			stats := mgr.Stats()
			r.publishStatus("running", pass, index, &job, &stats, nil)
		},
		OnRestart: func(attempt int) {
			r.logger.Warn("restarting queued bot", "bot", name, "attempt", attempt, "retries", r.cfg.Retries)
			stats := mgr.Stats()
			r.publishStatus("restarting", pass, index, &job, &stats, nil)
		},
	})
	mgr.SetLogger(r.logger)

	// Workers must outlive ctx long enough for a graceful stop.
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	r.mu.Lock()
	r.current = mgr
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	r.logger.Info("starting queued bot", "bot", name, "script", job.Script, "pass", pass, "index", index+1)
	if err := mgr.Start(workerCtx); err != nil {
		res.Result = ResultFailed
		res.Error = err.Error()
		res.Duration = time.Since(res.Started)
		r.logger.Error("queued bot failed to start", "bot", name, "error", err)
		if !process.IsRecoverable(err) {
			return res, fmt.Errorf("%w: %w", ErrWorkerUnavailable, err)
		}
		return res, nil
	}

	heartbeat := time.NewTicker(r.cfg.StatusInterval)
	defer heartbeat.Stop()

	cancelled := false
wait:
	for {
		select {
		case <-mgr.Done():
			break wait
		case <-heartbeat.C:
			if stats, ok := r.Current(); ok && stats.Status == process.StatusRunning {
				r.publishStatus("running", pass, index, &job, &stats, nil)
			}
		case <-ctx.Done():
			cancelled = true
			r.logger.Info("stopping queued bot", "bot", name)
			if err := mgr.Stop(); err != nil {
				r.logger.Warn("stopping queued bot failed", "bot", name, "error", err)
			}
			<-mgr.Done()
			break wait
		}
	}

	res.Duration = time.Since(res.Started)
	res.ExitCode = mgr.ExitCode()
	res.Restarts = mgr.RestartCount()
	if err := mgr.LastError(); err != nil {
		res.Error = err.Error()
	}

	switch {
	case cancelled:
		res.Result = ResultCancelled
	case mgr.Status() != process.StatusExited:
		res.Result = ResultFailed
	case res.ExitCode == runstate.ExitAdvance:
		res.Result = ResultAdvanced
	default:
		res.Result = ResultCompleted
	}

	r.logger.Info("queued bot finished",
		"bot", name,
		"exit_code", res.ExitCode,
		"result", res.Result,
		"restarts", res.Restarts,
		"duration", res.Duration.Round(time.Second),
	)
	return res, nil
}

// workerArgs builds the run command line for job.
func (r *Runner) workerArgs(job Job) []string {
	args := append([]string{}, r.cfg.BaseArgs...)
	args = append(args, "run", "--script", job.Script)
	if job.Name != "" {
		args = append(args, "--name", job.Name)
	}
	if job.MaxCycles > 0 {
		args = append(args, "--max-cycles", strconv.Itoa(job.MaxCycles))
	}
	if job.MaxTime > 0 {
		args = append(args, "--max-time", strconv.Itoa(job.MaxTime))
	}
	return args
}

func (r *Runner) publishStatus(state string, pass, index int, job *Job, worker *process.Stats, last *JobResult) {
	if r.pub == nil {
		return
	}
	msg := StatusMessage{
		State:     state,
		Pass:      pass,
		Index:     index + 1,
		Total:     len(r.cfg.Jobs),
		Worker:    worker,
		Last:      last,
		Timestamp: time.Now().UTC(),
	}
	if job != nil {
		msg.Current = job.Name
		if msg.Current == "" {
			msg.Current = job.Script
		}
	}
	if err := r.pub.PublishJSON(mqtt.Topics{}.QueueStatus(), msg, true); err != nil {
		r.logger.Warn("queue status publish failed", "error", err)
	}
}

func (r *Runner) recordMetric(res JobResult) {
	if r.points == nil {
		return
	}
	r.points.WriteQueueJobMetric(res.Name, res.Result, res.ExitCode, res.Pass, res.Duration)
}

func lastOf(sum Summary) *JobResult {
	if len(sum.Jobs) == 0 {
		return nil
	}
	return &sum.Jobs[len(sum.Jobs)-1]
}
