package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Message type discriminators.
const (
	TypeSuccess = "success"
	TypeError   = "error"
	TypeEvent   = "event"
)

// Kind classifies an inbound message.
type Kind int

const (
	// KindUnknown is a message that matches none of the known shapes.
	KindUnknown Kind = iota
	// KindSuccess is a successful command response.
	KindSuccess
	// KindError is an error response; ID is nil for connection-level errors.
	KindError
	// KindEvent is a server-initiated event.
	KindEvent
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Inbound is a classified inbound message. Only the fields relevant to Kind
// are populated.
type Inbound struct {
	Kind Kind

	// ID is the command ID for success and error responses. It is nil for
	// error messages sent with "id": null.
	ID *uint64

	Result json.RawMessage
	Error  *ErrorResult

	Method string
	Params json.RawMessage

	// Reason explains why a message was classified as unknown.
	Reason string
}

// ParseInbound classifies a raw message. It returns an error only when data
// is not valid JSON; structurally unexpected messages are returned as
// KindUnknown with a Reason.
func ParseInbound(data []byte) (*Inbound, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("failed to parse message: invalid JSON")
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return unknown("message is not a JSON object"), nil
	}

	rawType, ok := members["type"]
	if !ok {
		return unknown("missing type"), nil
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil {
		return unknown("type is not a string"), nil
	}

	switch msgType {
	case TypeSuccess:
		return parseSuccess(members)
	case TypeError:
		return parseError(members)
	case TypeEvent:
		return parseEvent(members)
	default:
		return unknown(fmt.Sprintf("unknown message type %q", msgType)), nil
	}
}

func parseSuccess(members map[string]json.RawMessage) (*Inbound, error) {
	rawID, ok := members["id"]
	if !ok || isNull(rawID) {
		return unknown("success response missing id"), nil
	}
	var id uint64
	if err := json.Unmarshal(rawID, &id); err != nil {
		return unknown("success response id is not an unsigned integer"), nil
	}
	result, ok := members["result"]
	if !ok {
		return unknown("success response missing result"), nil
	}
	return &Inbound{Kind: KindSuccess, ID: &id, Result: result}, nil
}

func parseError(members map[string]json.RawMessage) (*Inbound, error) {
	rawID, ok := members["id"]
	if !ok {
		return unknown("error response missing id"), nil
	}

	var id *uint64
	if !isNull(rawID) {
		var v uint64
		if err := json.Unmarshal(rawID, &v); err != nil {
			return unknown("error response id is not an unsigned integer"), nil
		}
		id = &v
	}

	errResult := &ErrorResult{}
	if !stringMember(members, "error", &errResult.ErrorType) {
		return unknown("error response missing error"), nil
	}
	if !stringMember(members, "message", &errResult.Message) {
		return unknown("error response missing message"), nil
	}
	if raw, ok := members["stacktrace"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &errResult.StackTrace); err != nil {
			return unknown("error response stacktrace is not a string"), nil
		}
	}

	extra, err := extraMembers(members, "type", "id", "error", "message", "stacktrace")
	if err != nil {
		return nil, err
	}
	errResult.Additional = extra

	return &Inbound{Kind: KindError, ID: id, Error: errResult}, nil
}

func parseEvent(members map[string]json.RawMessage) (*Inbound, error) {
	var method string
	if !stringMember(members, "method", &method) {
		return unknown("event missing method"), nil
	}
	params, ok := members["params"]
	if !ok || !isObject(params) {
		return unknown("event missing params"), nil
	}
	return &Inbound{Kind: KindEvent, Method: method, Params: params}, nil
}

func unknown(reason string) *Inbound {
	return &Inbound{Kind: KindUnknown, Reason: reason}
}

func stringMember(members map[string]json.RawMessage, name string, dst *string) bool {
	raw, ok := members[name]
	if !ok || isNull(raw) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func extraMembers(members map[string]json.RawMessage, skip ...string) (map[string]any, error) {
	var extra map[string]any
	for name, raw := range members {
		if slices.Contains(skip, name) {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[name] = v
	}
	return extra, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
