// Package protocol defines the WebDriver BiDi wire envelopes and the typed
// decoding used by the transport.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Command is a client-to-remote request. ID is normally assigned by the
// transport; a non-zero ID set by the caller is sent as-is.
type Command struct {
	ID     uint64
	Method string
	Params any

	// AdditionalData holds extra top-level envelope fields. Keys that
	// collide with id, method or params are ignored.
	AdditionalData map[string]any

	decode Decoder
}

// NewCommand creates a command whose result is decoded into a
// map[string]any.
func NewCommand(method string, params any) *Command {
	return &Command{
		Method: method,
		Params: params,
		decode: DecoderFor[map[string]any](),
	}
}

// NewTypedCommand creates a command whose result is decoded into T.
func NewTypedCommand[T any](method string, params any) *Command {
	return &Command{
		Method: method,
		Params: params,
		decode: DecoderFor[T](),
	}
}

// DecodeResult decodes a success payload with the command's result decoder.
func (c *Command) DecodeResult(raw json.RawMessage) (*SuccessResult, error) {
	decode := c.decode
	if decode == nil {
		decode = DecoderFor[map[string]any]()
	}
	value, extra, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", c.Method, err)
	}
	return &SuccessResult{Value: value, Additional: extra}, nil
}

type commandEnvelope struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// MarshalJSON encodes the wire envelope {"id","method","params",...extra}.
// Nil params are sent as an empty object, which the protocol requires.
func (c *Command) MarshalJSON() ([]byte, error) {
	params := c.Params
	if params == nil {
		params = struct{}{}
	}

	data, err := json.Marshal(commandEnvelope{ID: c.ID, Method: c.Method, Params: params})
	if err != nil {
		return nil, err
	}

	extra := make(map[string]any, len(c.AdditionalData))
	for k, v := range c.AdditionalData {
		switch k {
		case "id", "method", "params":
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return data, nil
	}

	extraData, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal additional data: %w", err)
	}

	// Splice {"a":1} into {"id":..,"params":{}} as {"id":..,"params":{},"a":1}.
	var buf bytes.Buffer
	buf.Grow(len(data) + len(extraData))
	buf.Write(data[:len(data)-1])
	buf.WriteByte(',')
	buf.Write(extraData[1:])
	return buf.Bytes(), nil
}
