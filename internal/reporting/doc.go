// Package reporting turns interpreter events into external records.
//
// Each reporter implements engine.Observer for one sink:
//
//	MQTTReporter     droidpilot/bot/{bot}/... status, stats and events
//	InfluxReporter   image_search, cycle and crash measurements
//	HistoryReporter  SQLite run history
//
// Combine them with engine.Observers. Sink failures are logged, never
// returned to the interpreter.
package reporting
