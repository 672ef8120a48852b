package engine

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/droidpilot/internal/device"
	"github.com/nerrad567/droidpilot/internal/monitor"
	"github.com/nerrad567/droidpilot/internal/runstate"
	"github.com/nerrad567/droidpilot/internal/script"
	"github.com/nerrad567/droidpilot/internal/vision"
)

// Default interpreter timings.
const (
	DefaultPollInterval     = time.Second
	DefaultProgressInterval = 10 * time.Second
)

// Device is the subset of device.Controller the interpreter drives.
type Device interface {
	CaptureFrame(ctx context.Context, opts ...device.CallOption) (*image.RGBA, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	IsAppRunning(ctx context.Context, pkg string) bool
	StartApp(ctx context.Context, pkg, activity string) bool
	StopApp(ctx context.Context, pkg string) bool
	Reboot(ctx context.Context) error
}

// Matcher is the subset of vision.Matcher the interpreter uses.
type Matcher interface {
	FindMany(ctx context.Context, frame *image.RGBA, names []string, threshold float64) map[string]vision.MatchResult
}

// Config holds interpreter settings.
type Config struct {
	// Bot names the run in logs and events. Defaults to the script name.
	Bot string

	// Serial is reported in RunInfo.
	Serial string

	// MaxCycles stops the run after this many cycles. 0 means unlimited.
	MaxCycles int

	// MaxTime stops the run once exceeded, checked before each cycle.
	// 0 means unlimited.
	MaxTime time.Duration

	// PollInterval is the image-search poll period. Default: 1s.
	PollInterval time.Duration

	// ProgressInterval is how often a long search logs progress.
	// Default: 10s.
	ProgressInterval time.Duration

	// Monitor supplies crash monitor timings; the package comes from the
	// script's activity module.
	Monitor monitor.Config
}

// Result summarises a finished run.
type Result struct {
	RunID     uuid.UUID
	Bot       string
	Outcome   runstate.Outcome
	Cycles    int
	Stats     Stats
	StartedAt time.Time
	Duration  time.Duration
}

// Logger defines the logging interface for the interpreter.
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

// Interpreter executes a script against one device. It is single use.
//
// The main loop runs cycles until the run flag is cleared: by a stop
// action, a clear-stop crash policy, a run limit, RequestStop, or ctx
// ending. A failing module ends only its cycle.
type Interpreter struct {
	dev      Device
	matcher  Matcher
	cfg      Config
	logger   Logger
	observer Observer

	flag  *runstate.Flag
	stats counters
	used  atomic.Bool

	runID uuid.UUID
	bot   string

	// Set during setup, read-only afterwards.
	pkg            string
	launchActivity string
	mon            atomic.Pointer[monitor.Monitor]

	// line is the 1-based module currently executing.
	line atomic.Int64

	// jump is a pending restart line for the next cycle; 0 means none.
	jump atomic.Int64
}

// New creates an interpreter.
func New(dev Device, matcher Matcher, cfg Config) *Interpreter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}

	return &Interpreter{
		dev:      dev,
		matcher:  matcher,
		cfg:      cfg,
		logger:   noopLogger{},
		observer: NopObserver{},
		flag:     runstate.New(),
	}
}

// SetLogger sets the logger for the interpreter and its crash monitor.
func (in *Interpreter) SetLogger(logger Logger) {
	in.logger = logger
}

// SetObserver sets the event observer. Use Observers to attach several.
func (in *Interpreter) SetObserver(o Observer) {
	in.observer = o
}

// RequestStop clears the run flag with outcome o. The run ends after the
// current module. It returns false if the run was already stopping.
func (in *Interpreter) RequestStop(o runstate.Outcome) bool {
	if in.flag.Clear(o) {
		in.logger.Info("stop requested", "bot", in.bot, "outcome", o.String())
		return true
	}
	return false
}

// Stats returns a snapshot of the run statistics.
func (in *Interpreter) Stats() Stats {
	s := in.stats.snapshot()
	if mon := in.mon.Load(); mon != nil {
		ms := mon.Stats()
		s.Crashes, s.Recoveries, s.RecoveriesDropped = ms.Crashes, ms.Recoveries, ms.Dropped
	}
	return s
}

// Run executes s until the run flag is cleared and returns the outcome.
//
// Module failures are contained per cycle and never returned. Run
// returns an error only when the run cannot start: a script with nothing
// to execute, or a crash monitor that fails to start.
func (in *Interpreter) Run(ctx context.Context, s *script.Script) (Result, error) {
	if !in.used.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}

	in.runID = uuid.New()
	in.bot = in.cfg.Bot
	if in.bot == "" {
		in.bot = s.Name
	}
	start := time.Now()
	res := Result{RunID: in.runID, Bot: in.bot, StartedAt: start}

	in.observer.RunStarted(RunInfo{
		RunID:     in.runID,
		Bot:       in.bot,
		Script:    s.Name,
		Serial:    in.cfg.Serial,
		StartedAt: start,
	})

	err := in.run(ctx, s, start)

	res.Outcome = in.flag.Outcome()
	res.Stats = in.Stats()
	res.Cycles = int(res.Stats.Cycles)
	res.Duration = time.Since(start)

	in.logger.Info("run finished",
		"bot", in.bot,
		"run_id", in.runID,
		"outcome", res.Outcome.String(),
		"cycles", res.Cycles,
		"duration", res.Duration,
	)
	in.observer.RunFinished(res, err)
	return res, err
}

func (in *Interpreter) run(ctx context.Context, s *script.Script, start time.Time) error {
	if !hasCycleModules(s) {
		in.flag.Clear(runstate.OutcomeStopped)
		return ErrNoCycleModules
	}

	stopOnCancel := context.AfterFunc(ctx, func() {
		in.flag.Clear(runstate.OutcomeStopped)
	})
	defer stopOnCancel()

	in.logger.Info("run started",
		"bot", in.bot,
		"run_id", in.runID,
		"modules", len(s.Modules),
		"max_cycles", in.cfg.MaxCycles,
		"max_time", in.cfg.MaxTime,
	)

	if err := in.setup(ctx, s); err != nil {
		in.flag.Clear(runstate.OutcomeStopped)
		return err
	}
	if mon := in.mon.Load(); mon != nil {
		defer mon.Stop()
	}

	for cycle := 1; in.flag.Running(); cycle++ {
		if in.cfg.MaxCycles > 0 && cycle > in.cfg.MaxCycles {
			in.logger.Info("cycle limit reached", "bot", in.bot, "max_cycles", in.cfg.MaxCycles)
			in.flag.Clear(runstate.OutcomeCompleted)
			break
		}
		if in.cfg.MaxTime > 0 && time.Since(start) >= in.cfg.MaxTime {
			in.logger.Info("time limit reached", "bot", in.bot, "max_time", in.cfg.MaxTime)
			in.flag.Clear(runstate.OutcomeCompleted)
			break
		}

		cycleStart := time.Now()
		err := in.runCycle(ctx, s)
		in.stats.cycles.Add(1)

		if err != nil {
			in.stats.errors.Add(1)
			in.logger.Error("cycle ended early", "bot", in.bot, "cycle", cycle, "error", err)
		} else {
			in.logger.Info("cycle completed", "bot", in.bot, "cycle", cycle, "duration", time.Since(cycleStart))
		}

		in.observer.CycleCompleted(CycleEvent{
			RunID:    in.runID,
			Bot:      in.bot,
			Cycle:    cycle,
			Duration: time.Since(cycleStart),
			Err:      err,
			Stats:    in.Stats(),
		})

		// Pace back-to-back failures so a missing device does not spin.
		if err != nil {
			in.flag.Sleep(ctx, in.cfg.PollInterval)
		}
	}
	return nil
}

// setup runs the activity module: launch, startup delay, crash monitor.
func (in *Interpreter) setup(ctx context.Context, s *script.Script) error {
	act := s.Activity()
	if act == nil {
		return nil
	}
	for i, m := range s.Modules {
		if m == act {
			in.setLine(i + 1)
		}
	}

	in.pkg = act.Package
	in.launchActivity = act.LaunchActivity
	in.logger.Info("activity module", "bot", in.bot, "package", act.Package, "launch", act.Launch)

	if act.Launch && !in.dev.StartApp(ctx, act.Package, act.LaunchActivity) {
		in.logger.Warn("app launch failed", "package", act.Package)
	}
	if act.StartupDelay > 0 && !in.flag.Sleep(ctx, act.StartupDelay) {
		return nil
	}

	cfg := in.cfg.Monitor
	cfg.Package = act.Package
	if act.CheckInterval > 0 {
		cfg.CheckInterval = act.CheckInterval
	}

	mon := monitor.New(in.dev, in.flag, cfg)
	mon.SetLogger(in.logger)
	mon.SetLine(int(in.line.Load()))
	mon.SetOnCrash(func(e monitor.CrashEvent) {
		in.observer.CrashDetected(CrashEvent{RunID: in.runID, Bot: in.bot, CrashEvent: e})
	})
	in.mon.Store(mon)

	var recovery monitor.RecoveryFunc
	if act.CrashAction == monitor.ActionContinueBot {
		recovery = in.recovery(act)
	}
	if err := mon.Start(ctx, act.Lines, act.CrashAction, recovery); err != nil {
		return fmt.Errorf("starting crash monitor: %w", err)
	}
	return nil
}

// defaultRecovery restarts the app when a script lists no recovery steps.
var defaultRecovery = []script.Action{
	script.CloseApp{},
	script.Sleep{Duration: time.Second},
	script.LaunchApp{},
}

// recovery returns the continue_bot callback: the activity's recovery
// actions followed by its startup delay. It abandons the remaining steps
// once the run stops or ctx is done.
func (in *Interpreter) recovery(act *script.Activity) monitor.RecoveryFunc {
	steps := act.Recovery
	if len(steps) == 0 {
		steps = defaultRecovery
	}
	return func(ctx context.Context) error {
		ac := &actionContext{line: int(in.line.Load())}
		for _, a := range steps {
			if ctx.Err() != nil || !in.flag.Running() {
				in.logger.Info("recovery abandoned, run stopping", "bot", in.bot, "next", a.Kind())
				return nil
			}
			if err := in.do(ctx, a, ac); err != nil {
				return fmt.Errorf("recovery %s: %w", a.Kind(), err)
			}
		}
		if act.StartupDelay > 0 {
			in.flag.Sleep(ctx, act.StartupDelay)
		}
		return nil
	}
}

// runCycle executes one pass over the modules, starting at a pending
// restart line if one is set. A restart requested mid-cycle ends the
// cycle after the current module.
func (in *Interpreter) runCycle(ctx context.Context, s *script.Script) error {
	first := 0
	if line := in.jump.Swap(0); line > 0 {
		first = int(line) - 1
		in.logger.Info("restarting cycle from line", "bot", in.bot, "line", line)
	}

	for i := first; i < len(s.Modules); i++ {
		if !in.flag.Running() {
			return nil
		}
		m := s.Modules[i]
		if _, ok := m.(*script.Activity); ok {
			continue
		}

		line := i + 1
		in.setLine(line)
		if err := in.execModule(ctx, m, line); err != nil {
			return err
		}

		if in.jump.Load() > 0 {
			return nil
		}
	}
	return nil
}

// execModule runs one module, converting failures and panics into
// ErrModuleExecution.
func (in *Interpreter) execModule(ctx context.Context, m script.Module, line int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: line %d (%s): panic: %v", ErrModuleExecution, line, m.Kind(), r)
		}
	}()

	in.logger.Debug("module entered", "bot", in.bot, "line", line, "type", m.Kind())

	switch m := m.(type) {
	case *script.ImageSearch:
		err = in.imageSearch(ctx, m, line)
	case *script.ActionModule:
		err = in.do(ctx, m.Action, &actionContext{line: line})
	default:
		err = fmt.Errorf("unsupported module %T", m)
	}
	if err != nil {
		return fmt.Errorf("%w: line %d (%s): %w", ErrModuleExecution, line, m.Kind(), err)
	}

	in.logger.Debug("module exited", "bot", in.bot, "line", line, "type", m.Kind())
	return nil
}

func (in *Interpreter) setLine(line int) {
	in.line.Store(int64(line))
	if mon := in.mon.Load(); mon != nil {
		mon.SetLine(line)
	}
}

func hasCycleModules(s *script.Script) bool {
	for _, m := range s.Modules {
		if _, ok := m.(*script.Activity); !ok {
			return true
		}
	}
	return false
}
