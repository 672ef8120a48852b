package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"
)

const devicesOutput = `List of devices attached
emulator-5554          device product:sdk_gphone64 model:sdk_gphone64_x86_64 transport_id:1
127.0.0.1:5555         offline transport_id:2
R58M123ABC             device usb:1-1 product:beyond1 model:SM_G973F transport_id:3

`

// mockTransport scripts adb responses and records every call.
type mockTransport struct {
	mu       sync.Mutex
	calls    [][]string
	timeouts []time.Duration
	respond  func(args []string) ([]byte, error)
}

func (m *mockTransport) Run(_ context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	m.timeouts = append(m.timeouts, timeout)
	respond := m.respond
	m.mu.Unlock()

	if respond == nil {
		return nil, nil
	}
	return respond(args)
}

func (m *mockTransport) lastCall() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func (m *mockTransport) lastTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeouts[len(m.timeouts)-1]
}

// newTestController builds a controller for emulator-5554 whose later
// commands are answered by respond.
func newTestController(t *testing.T, respond func(args []string) ([]byte, error)) (*Controller, *mockTransport) {
	t.Helper()

	mt := &mockTransport{respond: func(args []string) ([]byte, error) {
		if len(args) >= 1 && args[0] == "devices" {
			return []byte(devicesOutput), nil
		}
		if respond == nil {
			return nil, nil
		}
		return respond(args)
	}}

	ctrl, err := NewController(context.Background(), mt, Config{Serial: "emulator-5554"})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return ctrl, mt
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestNewController(t *testing.T) {
	tests := []struct {
		name       string
		serial     string
		listErr    error
		wantSerial string
		wantErr    error
	}{
		{name: "explicit serial", serial: "R58M123ABC", wantSerial: "R58M123ABC"},
		{name: "first ready device", serial: "", wantSerial: "emulator-5554"},
		{name: "offline serial", serial: "127.0.0.1:5555", wantErr: ErrDeviceNotFound},
		{name: "unknown serial", serial: "emulator-5556", wantErr: ErrDeviceNotFound},
		{name: "adb unavailable", serial: "emulator-5554", listErr: ErrTransport, wantErr: ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := &mockTransport{respond: func([]string) ([]byte, error) {
				if tt.listErr != nil {
					return nil, tt.listErr
				}
				return []byte(devicesOutput), nil
			}}

			ctrl, err := NewController(context.Background(), mt, Config{Serial: tt.serial})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewController() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewController() error = %v", err)
			}
			if ctrl.Serial() != tt.wantSerial {
				t.Errorf("Serial() = %q, want %q", ctrl.Serial(), tt.wantSerial)
			}
			if got := strings.Join(mt.lastCall(), " "); got != "devices -l" {
				t.Errorf("device enumeration = %q, want %q", got, "devices -l")
			}
		})
	}
}

func TestNewController_NoDevices(t *testing.T) {
	mt := &mockTransport{respond: func([]string) ([]byte, error) {
		return []byte("List of devices attached\n\n"), nil
	}}

	_, err := NewController(context.Background(), mt, Config{})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("NewController() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestController_CommandsTargetSerial(t *testing.T) {
	ctrl, mt := newTestController(t, nil)

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{
			name: "tap",
			call: func() error { return ctrl.Tap(context.Background(), 540, 1200) },
			want: "-s emulator-5554 shell input tap 540 1200",
		},
		{
			name: "swipe with duration",
			call: func() error {
				return ctrl.Swipe(context.Background(), 100, 900, 100, 300, 750*time.Millisecond)
			},
			want: "-s emulator-5554 shell input swipe 100 900 100 300 750",
		},
		{
			name: "swipe default duration",
			call: func() error { return ctrl.Swipe(context.Background(), 1, 2, 3, 4, 0) },
			want: "-s emulator-5554 shell input swipe 1 2 3 4 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if got := strings.Join(mt.lastCall(), " "); got != tt.want {
				t.Errorf("adb args = %q, want %q", got, tt.want)
			}
			if mt.lastTimeout() != DefaultCommandTimeout {
				t.Errorf("timeout = %v, want %v", mt.lastTimeout(), DefaultCommandTimeout)
			}
		})
	}
}

func TestController_TapTransportError(t *testing.T) {
	ctrl, _ := newTestController(t, func([]string) ([]byte, error) {
		return nil, fmt.Errorf("%w: exit status 1", ErrTransport)
	})

	if err := ctrl.Tap(context.Background(), 1, 1); !errors.Is(err, ErrTransport) {
		t.Errorf("Tap() error = %v, want ErrTransport", err)
	}
	if err := ctrl.Swipe(context.Background(), 1, 1, 2, 2, 0); !errors.Is(err, ErrTransport) {
		t.Errorf("Swipe() error = %v, want ErrTransport", err)
	}
}

func TestController_CaptureFrame(t *testing.T) {
	pngData := encodePNG(t, 8, 4)

	tests := []struct {
		name    string
		out     []byte
		err     error
		wantErr bool
	}{
		{name: "valid png", out: pngData},
		{name: "empty output", out: nil, wantErr: true},
		{name: "garbage", out: []byte("not a png"), wantErr: true},
		{name: "timeout", err: fmt.Errorf("%w: screencap", ErrTimeout), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, mt := newTestController(t, func([]string) ([]byte, error) {
				return tt.out, tt.err
			})

			frame, err := ctrl.CaptureFrame(context.Background())
			if tt.wantErr {
				if !errors.Is(err, ErrCapture) {
					t.Fatalf("CaptureFrame() error = %v, want ErrCapture", err)
				}
				if tt.err != nil && !errors.Is(err, tt.err) {
					t.Errorf("CaptureFrame() error = %v, should wrap cause %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CaptureFrame() error = %v", err)
			}
			if frame.Bounds().Dx() != 8 || frame.Bounds().Dy() != 4 {
				t.Errorf("frame size = %v, want 8x4", frame.Bounds())
			}
			if got := frame.RGBAAt(3, 2); got.R != 30 || got.G != 20 || got.B != 200 {
				t.Errorf("pixel (3,2) = %v", got)
			}
			if got := strings.Join(mt.lastCall(), " "); got != "-s emulator-5554 exec-out screencap -p" {
				t.Errorf("adb args = %q", got)
			}
		})
	}
}

func TestController_CaptureFrameTimeoutOverride(t *testing.T) {
	ctrl, mt := newTestController(t, func([]string) ([]byte, error) {
		return encodePNG(t, 2, 2), nil
	})

	if _, err := ctrl.CaptureFrame(context.Background(), WithTimeout(3*time.Second)); err != nil {
		t.Fatalf("CaptureFrame() error = %v", err)
	}
	if mt.lastTimeout() != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", mt.lastTimeout())
	}
}

func TestController_IsAppRunning(t *testing.T) {
	dumpsys := `ACTIVITY MANAGER ACTIVITIES (dumpsys activity activities)
Display #0 (activities from top to bottom):
  * TaskRecord{5a3c8f1 #42 A=com.example.game U=0 StackId=1 sz=1}
      Run #0: ActivityRecord{3c2d u0 com.example.game/.MainActivity t42}
  * TaskRecord{11aa #1 A=com.android.launcher3 U=0 StackId=0 sz=1}
`

	tests := []struct {
		name string
		pkg  string
		out  string
		err  error
		want bool
	}{
		{name: "running", pkg: "com.example.game", out: dumpsys, want: true},
		{name: "launcher running", pkg: "com.android.launcher3", out: dumpsys, want: true},
		{name: "not running", pkg: "com.other.app", out: dumpsys, want: false},
		{name: "transport failure", pkg: "com.example.game", err: ErrTransport, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _ := newTestController(t, func([]string) ([]byte, error) {
				return []byte(tt.out), tt.err
			})
			if got := ctrl.IsAppRunning(context.Background(), tt.pkg); got != tt.want {
				t.Errorf("IsAppRunning(%q) = %v, want %v", tt.pkg, got, tt.want)
			}
		})
	}
}

func TestController_StartApp(t *testing.T) {
	tests := []struct {
		name     string
		activity string
		out      string
		err      error
		wantArgs string
		want     bool
	}{
		{
			name:     "explicit activity",
			activity: ".MainActivity",
			out:      "Starting: Intent { cmp=com.example.game/.MainActivity }",
			wantArgs: "-s emulator-5554 shell am start -n com.example.game/com.example.game.MainActivity",
			want:     true,
		},
		{
			name:     "launcher intent",
			out:      "  bash arg: -p\nEvents injected: 1\n",
			wantArgs: "-s emulator-5554 shell monkey -p com.example.game -c android.intent.category.LAUNCHER 1",
			want:     true,
		},
		{
			name: "unconfirmed launch",
			out:  "Error: Activity not started",
			want: false,
		},
		{
			name: "transport failure",
			err:  ErrTimeout,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, mt := newTestController(t, func([]string) ([]byte, error) {
				return []byte(tt.out), tt.err
			})

			if got := ctrl.StartApp(context.Background(), "com.example.game", tt.activity); got != tt.want {
				t.Errorf("StartApp() = %v, want %v", got, tt.want)
			}
			if tt.wantArgs != "" {
				if got := strings.Join(mt.lastCall(), " "); got != tt.wantArgs {
					t.Errorf("adb args = %q, want %q", got, tt.wantArgs)
				}
			}
		})
	}
}

func TestController_StopApp(t *testing.T) {
	ctrl, mt := newTestController(t, nil)
	if !ctrl.StopApp(context.Background(), "com.example.game") {
		t.Error("StopApp() = false, want true")
	}
	if got := strings.Join(mt.lastCall(), " "); got != "-s emulator-5554 shell am force-stop com.example.game" {
		t.Errorf("adb args = %q", got)
	}

	failing, _ := newTestController(t, func([]string) ([]byte, error) { return nil, ErrTransport })
	if failing.StopApp(context.Background(), "com.example.game") {
		t.Error("StopApp() = true on transport failure")
	}
}

func TestController_Reboot(t *testing.T) {
	ctrl, mt := newTestController(t, nil)

	if err := ctrl.Reboot(context.Background()); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	if got := strings.Join(mt.lastCall(), " "); got != "-s emulator-5554 wait-for-device" {
		t.Errorf("last adb args = %q", got)
	}
	if mt.lastTimeout() != DefaultRebootTimeout {
		t.Errorf("wait timeout = %v, want %v", mt.lastTimeout(), DefaultRebootTimeout)
	}
}

func TestController_Ping(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		wantErr bool
	}{
		{name: "ready", out: "device\n"},
		{name: "offline", out: "offline\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _ := newTestController(t, func([]string) ([]byte, error) {
				return []byte(tt.out), nil
			})
			err := ctrl.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
