package command

import "errors"

// Domain errors for the command package.
var (
	// ErrInvalidCommand is returned when the type or payload is rejected.
	ErrInvalidCommand = errors.New("command: invalid command")

	// ErrInvalidStatus is returned when completing with a non-terminal status.
	ErrInvalidStatus = errors.New("command: invalid status")

	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("command: not found")
)
