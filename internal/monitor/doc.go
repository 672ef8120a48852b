// Package monitor watches the bot's target app and reacts when it stops
// running.
//
// The loop wakes every Tick (1s) so shutdown stays responsive, but only
// queries the device every CheckInterval (5s). Checks are limited to the
// interpreter lines listed in the monitor's line ranges.
//
// On a crash one of three policies applies:
//
//   - continue_bot: run the recovery asynchronously behind a single-slot
//     guard and keep watching
//   - clear_stop: stop watching and clear the run flag
//   - clear_stop_and_advance: as clear_stop, recording the "advance"
//     outcome so the host moves to the next queued bot
//
// A panic inside a check is logged and the loop continues.
package monitor
