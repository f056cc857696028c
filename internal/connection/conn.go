// Package connection owns a single WebSocket to a BiDi remote end.
package connection

import (
	"context"
	"io"

	"github.com/coder/websocket"
)

// Conn defines the subset of a WebSocket connection used by Connection.
// This abstraction enables testing with mock connections.
type Conn interface {
	// Reader returns a reader for the next message. The reader returns
	// io.EOF at the end of the message.
	Reader(ctx context.Context) (websocket.MessageType, io.Reader, error)

	// Write writes a complete message to the connection.
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error

	// Close performs the close handshake with a status code and reason.
	Close(code websocket.StatusCode, reason string) error

	// CloseNow closes the connection without a handshake.
	CloseNow() error
}

// Dialer opens a Conn to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebSocket is the default Dialer. It lifts the read limit because
// protocol messages such as screenshots routinely exceed the library
// default.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(-1)
	return conn, nil
}
