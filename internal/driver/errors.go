package driver

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownModule is returned by Module for a name that was never
// registered.
var ErrUnknownModule = errors.New("unknown module")

// ErrEventTypeConflict is returned by RegisterEvent when the event name is
// already mapped to a different params type.
var ErrEventTypeConflict = errors.New("event already registered with a different type")

// ErrNilCommand is returned by ExecuteCommand when no command is given.
var ErrNilCommand = errors.New("command cannot be nil")

// CommandError reports a failed command execution. Err is the transport
// failure, a *transport.TimeoutError, or the remote end's
// *protocol.ErrorResult.
type CommandError struct {
	Method  string
	Timeout time.Duration
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed (timeout %s): %v", e.Method, e.Timeout, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
