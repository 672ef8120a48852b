package control

import "errors"

var (
	// ErrUnknownCommand is returned for a command name the listener does not handle.
	ErrUnknownCommand = errors.New("control: unknown command")

	// ErrInvalidPayload is returned when a command payload cannot be parsed.
	ErrInvalidPayload = errors.New("control: invalid payload")

	// ErrAlreadyStopping is returned when a stop arrives after the run
	// already began stopping.
	ErrAlreadyStopping = errors.New("control: run already stopping")
)
