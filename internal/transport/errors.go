package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownCommand is returned when waiting on or reading a command ID
	// that is not pending.
	ErrUnknownCommand = errors.New("unknown command id")
	// ErrDuplicateCommandID is returned when a command ID is already pending.
	ErrDuplicateCommandID = errors.New("command id already pending")
	// ErrNotCompleted is returned by GetCommandResponse before a response
	// has arrived.
	ErrNotCompleted = errors.New("command has not completed")
	// ErrNoResult reports a completed command that carries neither a result
	// nor an error.
	ErrNoResult = errors.New("both result and error are nil")
	// ErrCommandTimeout is the sentinel behind every *TimeoutError.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrClosed is returned once the transport has been disconnected.
	ErrClosed = errors.New("transport is closed")
)

// TimeoutError is returned when a command's response did not arrive in time.
type TimeoutError struct {
	ID      uint64
	Method  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for command %d (%s) after %.2f seconds",
		e.ID, e.Method, e.Elapsed.Seconds())
}

// Unwrap returns ErrCommandTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrCommandTimeout
}

// Timeout reports true.
func (e *TimeoutError) Timeout() bool {
	return true
}
