package transport

import "github.com/grantcarthew/bidictl/internal/protocol"

// EventReceivedEventArgs carries a decoded protocol event.
type EventReceivedEventArgs struct {
	// Name is the protocol event name, e.g. "browsingContext.load".
	Name string
	// Data is the value produced by the decoder registered for Name.
	Data any
	// AdditionalData holds params fields the decoded type does not map.
	AdditionalData map[string]any
}

// ErrorReceivedEventArgs carries an error sent by the remote end without a
// command ID.
type ErrorReceivedEventArgs struct {
	Error *protocol.ErrorResult
}

// UnknownMessageEventArgs carries the raw text of a message that could not
// be routed.
type UnknownMessageEventArgs struct {
	Message string
}

// Stats is a snapshot of transport counters.
type Stats struct {
	CommandsSent    uint64
	Responses       uint64
	Events          uint64
	ErrorEvents     uint64
	UnknownMessages uint64
	Pending         int
}
