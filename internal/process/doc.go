// Package process provides generic subprocess lifecycle management.
//
// The bot queue runs each queued bot as a child `droidpilot run`
// process under a Manager, so a wedged interpreter or a device that
// disappears cannot take the queue down with it.
//
// Features:
//   - Start/stop with SIGTERM to the process group, then SIGKILL
//   - Exit-code capture, with configurable success codes
//   - Optional restart on failure with exponential backoff
//   - Health watchdog that kills a child after repeated failed checks
//   - Output forwarding or capture to the logger
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:               "farm",
//	    Binary:             os.Args[0],
//	    Args:               []string{"run", "--script", "bots/farm/bot.yaml"},
//	    SuccessExitCodes:   []int{0, 42},
//	    RestartOnFailure:   true,
//	    MaxRestartAttempts: 2,
//	    HealthCheckFunc:    dev.Ping,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	<-mgr.Done()
//	code, restarts := mgr.ExitCode(), mgr.RestartCount()
package process
