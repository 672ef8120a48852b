// Package engine interprets bot scripts against a device.
//
// An Interpreter runs the script's activity module once (launch, startup
// delay, crash monitor) and then executes the remaining modules in order,
// cycle after cycle, until the shared run flag is cleared. The outcome of
// the run is whatever cleared the flag:
//
//	OutcomeCompleted  cycle or time limit reached
//	OutcomeStopped    stop_bot, a clear_stop crash policy, RequestStop or ctx
//	OutcomeAdvance    a clear_stop_and_advance crash policy
//
// Image searches poll once per PollInterval. Module failures, including
// panics, end the current cycle and are counted; the next cycle starts
// normally.
//
// Run events are delivered to an Observer. The reporting package provides
// MQTT, InfluxDB and SQLite history observers.
package engine
