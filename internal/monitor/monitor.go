package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/droidpilot/internal/runstate"
)

// Default monitor timings.
const (
	DefaultTick          = time.Second
	DefaultCheckInterval = 5 * time.Second
	DefaultJoinTimeout   = 10 * time.Second
)

// State is the monitor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
)

// String returns the state name.
func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// AppChecker reports whether an app is running. device.Controller satisfies it.
type AppChecker interface {
	IsAppRunning(ctx context.Context, pkg string) bool
}

// RecoveryFunc restores the app after a crash under ActionContinueBot.
type RecoveryFunc func(ctx context.Context) error

// CrashEvent describes one detected crash.
type CrashEvent struct {
	Package    string
	Line       int
	Action     Action
	Dropped    bool // a recovery was already in flight
	DetectedAt time.Time
}

// Stats counts crash handling since the monitor was created.
type Stats struct {
	Crashes    int64
	Recoveries int64
	Dropped    int64
}

// Config holds monitor settings.
type Config struct {
	// Package is the app to watch.
	Package string

	// Tick is how often the loop wakes. Default: 1s.
	Tick time.Duration

	// CheckInterval is how often the app is actually queried. Default: 5s.
	CheckInterval time.Duration

	// JoinTimeout bounds Stop. Default: 10s.
	JoinTimeout time.Duration
}

// Logger defines the logging interface for the monitor.
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

// Monitor watches one app and applies a crash policy when it disappears.
//
// It moves Stopped -> Running on Start and back on Stop, on a clear-stop
// crash policy, or when the run flag is cleared elsewhere. At most one
// recovery runs at a time; crashes detected while one is in flight are
// logged, counted and dropped.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Monitor struct {
	apps    AppChecker
	flag    *runstate.Flag
	cfg     Config
	logger  Logger
	onCrash func(CrashEvent)

	line       atomic.Int64
	recovering atomic.Bool

	crashes    atomic.Int64
	recoveries atomic.Int64
	dropped    atomic.Int64

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	// inflight tracks the recovery goroutine of the current Start.
	inflight *sync.WaitGroup
}

// New creates a stopped monitor for cfg.Package.
func New(apps AppChecker, flag *runstate.Flag, cfg Config) *Monitor {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}

	return &Monitor{
		apps:   apps,
		flag:   flag,
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateStopped,
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetOnCrash registers a callback invoked for every detected crash.
// It must be set before Start and must not block.
func (m *Monitor) SetOnCrash(fn func(CrashEvent)) {
	m.onCrash = fn
}

// SetLine records the interpreter's current line for range gating.
func (m *Monitor) SetLine(line int) {
	m.line.Store(int64(line))
}

// Package returns the watched package.
func (m *Monitor) Package() string {
	return m.cfg.Package
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns crash counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Crashes:    m.crashes.Load(),
		Recoveries: m.recoveries.Load(),
		Dropped:    m.dropped.Load(),
	}
}

// Start begins watching. Checks only happen while the current line is
// inside ranges (all lines when ranges is empty). Calling Start while
// running logs a warning and changes nothing.
func (m *Monitor) Start(ctx context.Context, ranges []LineRange, action Action, recovery RecoveryFunc) error {
	if m.cfg.Package == "" {
		return ErrNoPackage
	}
	if action == ActionContinueBot && recovery == nil {
		return ErrNoRecovery
	}
	if action < ActionContinueBot || action > ActionClearStopAndAdvance {
		return fmt.Errorf("%w: %d", ErrUnknownAction, int(action))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning {
		m.logger.Warn("crash monitor already running", "package", m.cfg.Package)
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.state = StateRunning
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.cancel = cancel
	m.inflight = &sync.WaitGroup{}

	go m.loop(loopCtx, m.stopCh, m.done, ranges, action, recovery)

	m.logger.Info("crash monitor started",
		"package", m.cfg.Package,
		"action", action.String(),
		"ranges", ranges,
		"check_interval", m.cfg.CheckInterval,
	)
	return nil
}

// Stop signals the loop and waits up to the join timeout for it and any
// in-flight recovery to exit. It returns false if either did not exit in
// time. Once Stop returns true no recovery action is running or will be
// dispatched.
//
// Stop also joins a monitor that already stopped itself, through a crash
// policy, the run flag or its context.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return true
	}
	if m.state == StateRunning {
		m.state = StateStopped
		close(m.stopCh)
	}
	done, cancel, inflight := m.done, m.cancel, m.inflight
	m.mu.Unlock()

	cancel()

	joined := make(chan struct{})
	go func() {
		<-done
		inflight.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		m.logger.Info("crash monitor stopped", "package", m.cfg.Package)
		return true
	case <-time.After(m.cfg.JoinTimeout):
		m.logger.Warn("crash monitor did not exit in time",
			"package", m.cfg.Package,
			"timeout", m.cfg.JoinTimeout,
		)
		return false
	}
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}, ranges []LineRange, action Action, recovery RecoveryFunc) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	every := ticksPerCheck(m.cfg.Tick, m.cfg.CheckInterval)
	ticks := 0
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.markStopped(stop, "context done")
			return
		case <-m.flag.Done():
			m.markStopped(stop, "run flag cleared")
			return
		case <-ticker.C:
			ticks++
			if ticks < every {
				continue
			}
			ticks = 0
			if !m.tick(ctx, stop, ranges, action, recovery) {
				return
			}
		}
	}
}

// ticksPerCheck returns how many ticks make up one check interval,
// rounding up and never less than one.
func ticksPerCheck(tick, interval time.Duration) int {
	n := int((interval + tick - 1) / tick)
	if n < 1 {
		return 1
	}
	return n
}

// tick runs one check. It returns false when the loop must end.
func (m *Monitor) tick(ctx context.Context, stop <-chan struct{}, ranges []LineRange, action Action, recovery RecoveryFunc) (keepRunning bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("crash monitor check panicked", "package", m.cfg.Package, "panic", r)
			keepRunning = true
		}
	}()

	line := int(m.line.Load())
	if !ShouldCheckLine(ranges, line) {
		m.logger.Debug("crash check skipped outside line ranges", "line", line)
		return true
	}

	if m.apps.IsAppRunning(ctx, m.cfg.Package) {
		return true
	}
	if ctx.Err() != nil {
		// The check was interrupted by Stop; not a crash.
		return true
	}

	m.crashes.Add(1)
	event := CrashEvent{
		Package:    m.cfg.Package,
		Line:       line,
		Action:     action,
		DetectedAt: time.Now(),
	}
	m.logger.Warn("app not running, crash detected",
		"package", m.cfg.Package,
		"line", line,
		"action", action.String(),
	)

	keepRunning = true
	switch action {
	case ActionContinueBot:
		event.Dropped = !m.dispatchRecovery(ctx, stop, recovery)
	case ActionClearStop:
		m.markStopped(stop, "crash policy clear_stop")
		m.flag.Clear(runstate.OutcomeStopped)
		keepRunning = false
	case ActionClearStopAndAdvance:
		m.markStopped(stop, "crash policy clear_stop_and_advance")
		m.flag.Clear(runstate.OutcomeAdvance)
		keepRunning = false
	}

	if m.onCrash != nil {
		m.onCrash(event)
	}
	return keepRunning
}

// dispatchRecovery starts recovery unless one is in flight or the monitor
// was stopped. It reports whether a recovery was started.
func (m *Monitor) dispatchRecovery(ctx context.Context, stop <-chan struct{}, recovery RecoveryFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning || m.stopCh != stop {
		return false
	}
	if !m.recovering.CompareAndSwap(false, true) {
		m.dropped.Add(1)
		m.logger.Warn("recovery already in progress, crash dropped", "package", m.cfg.Package)
		return false
	}

	m.recoveries.Add(1)
	inflight := m.inflight
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer m.recovering.Store(false)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("recovery panicked", "package", m.cfg.Package, "panic", r)
			}
		}()

		m.logger.Info("recovery started", "package", m.cfg.Package)
		if err := recovery(ctx); err != nil {
			m.logger.Error("recovery failed", "package", m.cfg.Package, "error", err)
			return
		}
		m.logger.Info("recovery completed", "package", m.cfg.Package)
	}()
	return true
}

// markStopped moves the monitor to Stopped from inside the loop.
func (m *Monitor) markStopped(stop <-chan struct{}, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning || m.stopCh != stop {
		return
	}
	m.state = StateStopped
	m.cancel()
	m.logger.Info("crash monitor stopped", "package", m.cfg.Package, "reason", reason)
}
