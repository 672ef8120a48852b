package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/draw"
)

// Default gesture and lifecycle timings.
const (
	DefaultSwipeDuration = 500 * time.Millisecond
	DefaultRebootTimeout = 180 * time.Second
)

// Output markers that indicate "am start" or "monkey" launched the app.
var launchMarkers = []string{"Starting", "Events injected"}

// Config holds controller settings.
type Config struct {
	// Serial selects the device. Empty means the first attached device
	// in state "device".
	Serial string

	// CommandTimeout bounds each adb command. Default: 30s.
	CommandTimeout time.Duration

	// SwipeDuration is used when Swipe is called with a zero duration.
	// Default: 500ms.
	SwipeDuration time.Duration

	// RebootTimeout bounds Reboot (reboot + wait-for-device). Default: 180s.
	RebootTimeout time.Duration
}

// Logger defines the logging interface for the controller.
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

// CallOption adjusts a single controller call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the command timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Controller drives one Android device through a Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the controller holds no
//     mutable state beyond its logger, which must be set before use.
type Controller struct {
	transport Transport
	cfg       Config
	serial    string
	logger    Logger
}

// NewController resolves the target device and returns a controller for it.
//
// The device list is read once. If cfg.Serial is set and not attached in
// state "device", or no serial is set and no device is ready, it returns
// ErrDeviceNotFound.
func NewController(ctx context.Context, transport Transport, cfg Config) (*Controller, error) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.SwipeDuration <= 0 {
		cfg.SwipeDuration = DefaultSwipeDuration
	}
	if cfg.RebootTimeout <= 0 {
		cfg.RebootTimeout = DefaultRebootTimeout
	}

	devices, err := ListDevices(ctx, transport, cfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	serial, err := selectDevice(devices, cfg.Serial)
	if err != nil {
		return nil, err
	}

	return &Controller{
		transport: transport,
		cfg:       cfg,
		serial:    serial,
		logger:    noopLogger{},
	}, nil
}

// ListDevices returns the devices attached to the adb server.
func ListDevices(ctx context.Context, transport Transport, timeout time.Duration) ([]Info, error) {
	out, err := transport.Run(ctx, timeout, "devices", "-l")
	if err != nil {
		return nil, err
	}
	return parseDevices(string(out)), nil
}

// selectDevice picks the serial to drive from the attached devices.
func selectDevice(devices []Info, want string) (string, error) {
	for _, d := range devices {
		if !d.Ready() {
			continue
		}
		if want == "" || d.Serial == want {
			return d.Serial, nil
		}
	}
	if want == "" {
		return "", fmt.Errorf("%w: no device in state \"device\" attached", ErrDeviceNotFound)
	}
	return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, want)
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Serial returns the serial of the device being driven.
func (c *Controller) Serial() string {
	return c.serial
}

// run executes an adb command against this device.
func (c *Controller) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.cfg.CommandTimeout
	}
	full := append([]string{"-s", c.serial}, args...)
	return c.transport.Run(ctx, timeout, full...)
}

// CaptureFrame takes a screenshot and returns it as RGBA.
// Any transport failure, timeout or undecodable image wraps ErrCapture.
func (c *Controller) CaptureFrame(ctx context.Context, opts ...CallOption) (*image.RGBA, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	out, err := c.run(ctx, o.timeout, "exec-out", "screencap", "-p")
	if err != nil {
		c.logger.Error("screen capture failed", "serial", c.serial, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	frame, err := decodeFrame(out)
	if err != nil {
		c.logger.Error("screen capture undecodable", "serial", c.serial, "bytes", len(out), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}

	c.logger.Debug("screen captured",
		"serial", c.serial,
		"width", frame.Bounds().Dx(),
		"height", frame.Bounds().Dy(),
		"elapsed", time.Since(start),
	)
	return frame, nil
}

// decodeFrame decodes screencap PNG output into an RGBA image.
func decodeFrame(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, errors.New("empty screenshot")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// Tap taps the screen at (x, y).
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	if _, err := c.run(ctx, 0, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		c.logger.Error("tap failed", "serial", c.serial, "x", x, "y", y, "error", err)
		return err
	}
	c.logger.Debug("tap", "serial", c.serial, "x", x, "y", y)
	return nil
}

// Swipe drags from (x1, y1) to (x2, y2) over duration.
// A non-positive duration uses the configured default.
func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	if duration <= 0 {
		duration = c.cfg.SwipeDuration
	}
	ms := strconv.FormatInt(duration.Milliseconds(), 10)

	if _, err := c.run(ctx, 0, "shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), ms,
	); err != nil {
		c.logger.Error("swipe failed",
			"serial", c.serial,
			"from", [2]int{x1, y1},
			"to", [2]int{x2, y2},
			"error", err,
		)
		return err
	}
	c.logger.Debug("swipe",
		"serial", c.serial,
		"from", [2]int{x1, y1},
		"to", [2]int{x2, y2},
		"duration", duration,
	)
	return nil
}

// IsAppRunning reports whether pkg has a task in the activity manager.
// Transport failures are logged and reported as not running.
func (c *Controller) IsAppRunning(ctx context.Context, pkg string) bool {
	out, err := c.run(ctx, 0, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		c.logger.Error("reading activities failed", "serial", c.serial, "package", pkg, "error", err)
		return false
	}
	_, running := parseRunningActivities(string(out))[pkg]
	c.logger.Debug("app running check", "serial", c.serial, "package", pkg, "running", running)
	return running
}

// StartApp launches pkg. With an activity it uses "am start -n", otherwise
// the launcher intent via monkey. It never returns an error; false means
// the launch could not be confirmed.
func (c *Controller) StartApp(ctx context.Context, pkg, activity string) bool {
	var args []string
	if activity != "" {
		if strings.HasPrefix(activity, ".") {
			activity = pkg + activity
		}
		args = []string{"shell", "am", "start", "-n", pkg + "/" + activity}
	} else {
		args = []string{"shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1"}
	}

	out, err := c.run(ctx, 0, args...)
	if err != nil {
		c.logger.Error("app start failed", "serial", c.serial, "package", pkg, "activity", activity, "error", err)
		return false
	}

	started := containsAny(string(out), launchMarkers)
	if started {
		c.logger.Info("app started", "serial", c.serial, "package", pkg, "activity", activity)
	} else {
		c.logger.Warn("app start not confirmed",
			"serial", c.serial,
			"package", pkg,
			"output", strings.TrimSpace(string(out)),
		)
	}
	return started
}

// StopApp force-stops pkg. It never returns an error.
func (c *Controller) StopApp(ctx context.Context, pkg string) bool {
	if _, err := c.run(ctx, 0, "shell", "am", "force-stop", pkg); err != nil {
		c.logger.Error("app stop failed", "serial", c.serial, "package", pkg, "error", err)
		return false
	}
	c.logger.Info("app stopped", "serial", c.serial, "package", pkg)
	return true
}

// Reboot restarts the device and blocks until adb sees it again.
func (c *Controller) Reboot(ctx context.Context) error {
	c.logger.Warn("rebooting device", "serial", c.serial)

	if _, err := c.run(ctx, 0, "reboot"); err != nil {
		return fmt.Errorf("rebooting %s: %w", c.serial, err)
	}
	if _, err := c.run(ctx, c.cfg.RebootTimeout, "wait-for-device"); err != nil {
		return fmt.Errorf("waiting for %s: %w", c.serial, err)
	}

	c.logger.Info("device back online", "serial", c.serial)
	return nil
}

// Ping verifies the device is still attached and ready.
func (c *Controller) Ping(ctx context.Context) error {
	out, err := c.run(ctx, 0, "get-state")
	if err != nil {
		return err
	}
	if state := strings.TrimSpace(string(out)); state != StateDevice {
		return fmt.Errorf("%w: %s is %q", ErrDeviceNotFound, c.serial, state)
	}
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
