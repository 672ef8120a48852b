// Package runstate provides the run flag: the single cooperative
// cancellation point shared between the module interpreter, the crash
// monitor and remote control.
//
// Clearing the flag never interrupts an in-flight device call. Loops
// observe it at their next poll or sleep, which wakes immediately.
package runstate
