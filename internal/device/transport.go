package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single adb invocation.
const DefaultCommandTimeout = 30 * time.Second

// waitDelay is how long exec waits for adb's output pipes after the
// process is killed on timeout.
const waitDelay = 2 * time.Second

// Transport executes adb commands. Implementations must be safe for
// concurrent use: the crash monitor polls the device while the
// interpreter taps and captures.
type Transport interface {
	// Run executes adb with args and returns its stdout.
	// A non-zero exit wraps ErrTransport; exceeding timeout wraps ErrTimeout.
	Run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error)
}

// ADBTransport runs the adb executable via os/exec.
type ADBTransport struct {
	// Path is the adb executable. Empty means "adb" from PATH.
	Path string
}

// NewADBTransport returns a transport for the adb binary at path.
func NewADBTransport(path string) *ADBTransport {
	return &ADBTransport{Path: path}
}

// Run implements Transport.
func (t *ADBTransport) Run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := t.Path
	if bin == "" {
		bin = "adb"
	}

	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // adb path comes from operator config
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: adb %s after %v", ErrTimeout, strings.Join(args, " "), timeout)
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: adb %s: %w", ErrTransport, strings.Join(args, " "), ctx.Err())
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	return nil, fmt.Errorf("%w: adb %s: %w: %s", ErrTransport, strings.Join(args, " "), err, msg)
}
