// Package control lets an operator steer a running bot over MQTT.
//
// The listener subscribes to droidpilot/bot/{bot}/command and accepts
// either a bare command name or a JSON object:
//
//	stop
//	{"id": "c1", "command": "advance"}
//
// Commands:
//
//   - stop: end the run after the current module (exit code 0)
//   - advance: end the run and let a queue move to the next bot (exit code 42)
//   - stats: publish current statistics on droidpilot/bot/{bot}/stats
//
// Every command is acknowledged on droidpilot/bot/{bot}/event/ack.
package control
