package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusFailed   Status = "failed"
)

// outputBufferSize is the buffer size for capturing subprocess stdout/stderr.
const outputBufferSize = 4096

// Default timings applied by NewManager.
const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second
	defaultMaxHealthFailures   = 3
	healthCheckTimeout         = 5 * time.Second
	killWaitTimeout            = 5 * time.Second
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Output receives the child's stdout and stderr. If nil, output is
	// logged line-chunk by line-chunk at debug level.
	Output io.Writer

	// SuccessExitCodes are the exit codes that count as a normal finish.
	// Default: [0].
	SuccessExitCodes []int

	// RestartOnFailure restarts the process when it exits with a code
	// outside SuccessExitCodes or is killed by the watchdog.
	RestartOnFailure bool

	// RestartDelay is the base delay before a restart; it doubles per
	// consecutive attempt up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold resets the restart counter when a run lasted at
	// least this long.
	StableThreshold time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is called periodically while the process runs.
	// After MaxHealthFailures consecutive failures the process is killed.
	// If nil, the process is considered healthy while running.
	HealthCheckFunc     func(ctx context.Context) error
	HealthCheckInterval time.Duration
	MaxHealthFailures   int

	// OnStart is called with the PID each time the process starts,
	// restarts included.
	OnStart func(pid int)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager manages the lifecycle of a subprocess: start, health watchdog,
// optional restart, graceful stop and exit-code capture.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	exitCode      int
	startTime     time.Time
	stopRequested bool

	// done is closed when the monitor goroutine returns.
	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.MaxHealthFailures == 0 {
		cfg.MaxHealthFailures = defaultMaxHealthFailures
	}
	if len(cfg.SuccessExitCodes) == 0 {
		cfg.SuccessExitCodes = []int{0}
	}

	return &Manager{
		config:   cfg,
		logger:   noopLogger{},
		status:   StatusStopped,
		exitCode: -1,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it.
// Returns an error if the process fails to start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.exitCode = -1
	m.lastError = nil
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)

	return nil
}

// startProcess actually starts the subprocess.
func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary is this executable or operator config

	// A new process group lets Stop signal the worker and anything it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Context cancellation asks politely first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = m.config.GracefulTimeout

	if m.config.Output != nil {
		cmd.Stdout = m.config.Output
		cmd.Stderr = m.config.Output
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("creating stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("creating stderr pipe: %w", err)
		}
		go m.captureOutput("stdout", stdout)
		go m.captureOutput("stderr", stderr)
	}

	if err := cmd.Start(); err != nil {
		return &startError{name: m.config.Name, err: err}
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart(cmd.Process.Pid)
	}

	return nil
}

// captureOutput reads from the given reader and logs each chunk.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m.logger.Debug("process output",
				"name", m.config.Name,
				"stream", stream,
				"output", string(buf[:n]),
			)
		}
		if err != nil {
			return
		}
	}
}

// waitForExitOrHealthFailure waits for the process to exit or for the
// health check to fail MaxHealthFailures times in a row, in which case
// the process group is killed.
func (m *Manager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			// CommandContext terminates the process; collect its exit.
			return <-exitCh

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if consecutiveFailures > 0 {
					m.logger.Info("health check recovered",
						"name", m.config.Name,
						"previous_failures", consecutiveFailures,
					)
				}
				consecutiveFailures = 0
				continue
			}

			consecutiveFailures++
			m.logger.Warn("health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", consecutiveFailures,
			)
			if consecutiveFailures < m.config.MaxHealthFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process",
				"name", m.config.Name,
				"failures", consecutiveFailures,
			)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // Process may already be gone

			select {
			case <-exitCh:
				return fmt.Errorf("%w: %d consecutive failures, last: %w", ErrHealthCheckFailed, consecutiveFailures, err)
			case <-time.After(killWaitTimeout):
				return fmt.Errorf("%w: process did not exit after kill", ErrHealthCheckFailed)
			}
		}
	}
}

// monitor watches the process, records how it exited and handles restarts.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		err := m.waitForExitOrHealthFailure(ctx, cmd)
		code := exitCodeOf(cmd, err)

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.exitCode = code
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped as requested", "name", m.config.Name, "exit_code", code)
			m.setFinal(StatusStopped, nil)
			return
		}

		if !errors.Is(err, ErrHealthCheckFailed) && m.isSuccess(code) {
			m.logger.Info("process exited", "name", m.config.Name, "exit_code", code)
			m.setFinal(StatusExited, nil)
			return
		}

		if err == nil {
			err = fmt.Errorf("exit code %d", code)
		}
		m.logger.Warn("process exited unexpectedly",
			"name", m.config.Name,
			"exit_code", code,
			"error", err,
		)
		m.setFinal(StatusFailed, err)

		if !m.config.RestartOnFailure || ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if time.Since(started) >= m.config.StableThreshold {
			m.restartCount = 0
		}
		attempt := m.restartCount + 1
		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.mu.Unlock()
			m.logger.Error("max restart attempts reached",
				"name", m.config.Name,
				"attempts", attempt-1,
			)
			return
		}
		m.restartCount = attempt
		m.mu.Unlock()

		if !m.restart(ctx, attempt) {
			return
		}
	}
}

// restart waits out the backoff and starts the process again. It reports
// whether monitoring should continue.
func (m *Manager) restart(ctx context.Context, attempt int) bool {
	delay := m.calculateBackoffDelay(attempt)
	m.logger.Info("restarting process",
		"name", m.config.Name,
		"attempt", attempt,
		"delay", delay,
	)
	if m.config.OnRestart != nil {
		m.config.OnRestart(attempt)
	}

	select {
	case <-ctx.Done():
		m.logger.Info("context cancelled, not restarting", "name", m.config.Name)
		return false
	case <-time.After(delay):
	}

	m.mu.RLock()
	stopRequested := m.stopRequested
	m.mu.RUnlock()
	if stopRequested {
		m.setFinal(StatusStopped, nil)
		return false
	}

	if err := m.startProcess(ctx); err != nil {
		m.logger.Error("failed to restart process",
			"name", m.config.Name,
			"error", err,
			"recoverable", IsRecoverable(err),
		)
		m.setFinal(StatusFailed, err)
		return false
	}
	return true
}

// calculateBackoffDelay returns RestartDelay * 2^(attempt-1), capped at
// MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return min(delay, m.config.MaxRestartDelay)
}

func (m *Manager) isSuccess(code int) bool {
	return slices.Contains(m.config.SuccessExitCodes, code)
}

func (m *Manager) setFinal(status Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	if err != nil {
		m.lastError = err
	}
}

// exitCodeOf returns the process exit code, or -1 when it was killed by
// a signal or never reported one.
func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Stop gracefully stops the subprocess.
// It sends SIGTERM to the process group and waits GracefulTimeout, then
// sends SIGKILL.
func (m *Manager) Stop() error {
	m.mu.Lock()
	done := m.done
	if done == nil || isClosed(done) {
		m.mu.Unlock()
		return nil
	}
	// Also set while waiting out a restart delay, so no restart follows.
	m.stopRequested = true
	cmd := m.cmd
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the process has exited for good:
// after a success exit, a requested stop, or the last failed attempt.
// It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// ExitCode returns the most recent exit code, or -1 if the process has
// not exited or was killed by a signal.
func (m *Manager) ExitCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exitCode
}

// RestartCount returns the number of restarts since the last run that
// outlasted StableThreshold.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats returns statistics about the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	ExitCode     int           `json:"exit_code"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
		ExitCode:     m.exitCode,
	}

	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}

	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
