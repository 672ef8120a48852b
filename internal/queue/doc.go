// Package queue runs a list of bots back to back, each in its own
// `droidpilot run` child process supervised by the process package.
//
// Exit codes drive the queue: 0 and 42 move on to the next bot, anything
// else is retried up to queue.retries times and then is a failure that
// either ends the queue (stop_on_failure) or is skipped. With repeat set
// the queue loops until cancelled. While a worker runs its PID, uptime
// and restart count are republished every status_interval.
package queue
