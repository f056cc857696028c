package connection

import "log/slog"

// State represents the lifecycle state of a Connection.
type State int

const (
	// StateIdle indicates Start has not been called.
	StateIdle State = iota
	// StateConnecting indicates the handshake is in progress.
	StateConnecting
	// StateOpen indicates an active connection.
	StateOpen
	// StateClosing indicates a close handshake is in progress.
	StateClosing
	// StateClosed indicates the close handshake completed.
	StateClosed
	// StateAborted indicates the socket was dropped or force-closed.
	StateAborted
)

// String returns a human-readable name for the connection state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DataReceivedEventArgs carries one complete inbound message.
type DataReceivedEventArgs struct {
	Data string
}

// LogMessageEventArgs carries a diagnostic emitted by a protocol component.
type LogMessageEventArgs struct {
	Level     slog.Level
	Message   string
	Component string
}
