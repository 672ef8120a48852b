// Package device controls an Android device or emulator over adb.
//
// A Controller binds to one device serial at construction and exposes the
// operations the automation engine needs: screen capture, taps, swipes,
// and app lifecycle (running check, start, force-stop, reboot).
//
// All adb traffic goes through the Transport interface. ADBTransport runs
// the real adb binary with a per-command timeout (30s by default); tests
// substitute a scripted transport.
//
// Error handling follows two rules:
//   - CaptureFrame, Tap, Swipe and Reboot return errors wrapping
//     ErrCapture, ErrTransport or ErrTimeout.
//   - IsAppRunning, StartApp and StopApp return booleans and log failures,
//     because the crash monitor must keep running through adb hiccups.
//
// Usage:
//
//	ctrl, err := device.NewController(ctx, device.NewADBTransport("adb"), device.Config{
//	    Serial: "emulator-5554",
//	})
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // exit 1
//	}
//	frame, err := ctrl.CaptureFrame(ctx)
package device
