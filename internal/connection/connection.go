package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/grantcarthew/bidictl/internal/metrics"
	"github.com/grantcarthew/bidictl/internal/observable"
)

const (
	// DefaultBufferSize is the size of the reusable receive buffer.
	DefaultBufferSize = 4096
	// DefaultRetryInterval is the delay between connection attempts.
	DefaultRetryInterval = 500 * time.Millisecond
)

var (
	// ErrAlreadyStarted is returned when Start is called on a connection
	// that is not idle.
	ErrAlreadyStarted = errors.New("connection already started")
	// ErrNotConnected is returned when sending on a connection that is not open.
	ErrNotConnected = errors.New("connection is not open")
	// ErrAlreadySending is returned when a send is attempted while another
	// send is in flight.
	ErrAlreadySending = errors.New("connection is already sending data")
	// ErrStartupTimeout is returned when the remote end did not accept a
	// connection within the startup timeout.
	ErrStartupTimeout = errors.New("connection startup timeout")
)

// Connection owns one WebSocket for its lifetime. It reassembles inbound
// messages, announces them on OnDataReceived, and reports its lifecycle on
// OnLogMessage and the configured logger.
type Connection struct {
	id            string
	logger        *slog.Logger
	dial          Dialer
	bufferSize    int
	retryInterval time.Duration
	metrics       *metrics.Metrics

	mu         sync.Mutex
	state      State
	url        string
	conn       Conn
	cancelRead context.CancelFunc
	readDone   chan struct{}

	sending atomic.Bool

	dataReceived *observable.Event[DataReceivedEventArgs]
	logMessage   *observable.Event[LogMessageEventArgs]
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithBufferSize sets the receive buffer size.
func WithBufferSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithRetryInterval sets the delay between connection attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithMetrics records traffic volume.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connection) {
		c.metrics = m
	}
}

// New creates an idle connection.
func New(opts ...Option) *Connection {
	c := &Connection{
		id:            uuid.NewString(),
		logger:        slog.New(slog.DiscardHandler),
		dial:          DialWebSocket,
		bufferSize:    DefaultBufferSize,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	onPanic := observable.WithPanicHandler(func(r any) {
		c.logger.LogAttrs(context.Background(), slog.LevelError,
			fmt.Sprintf("Unexpected panic in detached observer: %v", r),
			slog.String("component", "connection"),
			slog.String("connection", c.id))
	})
	c.dataReceived = observable.NewEvent[DataReceivedEventArgs]("connection.dataReceived", onPanic)
	c.logMessage = observable.NewEvent[LogMessageEventArgs]("connection.logMessage", onPanic)
	return c
}

// ID returns the identifier attached to this connection's log records.
func (c *Connection) ID() string {
	return c.id
}

// URL returns the URL passed to Start.
func (c *Connection) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// OnDataReceived is notified with each complete inbound message, on the
// receive goroutine.
func (c *Connection) OnDataReceived() *observable.Event[DataReceivedEventArgs] {
	return c.dataReceived
}

// OnLogMessage is notified with every diagnostic the connection emits.
func (c *Connection) OnLogMessage() *observable.Event[LogMessageEventArgs] {
	return c.logMessage
}

// BufferSize returns the receive buffer size.
func (c *Connection) BufferSize() int {
	return c.bufferSize
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsActive reports whether the connection is open.
func (c *Connection) IsActive() bool {
	return c.State() == StateOpen
}

// Start connects to url, retrying while the remote end is not yet
// listening, until startupTimeout elapses. On success the receive loop is
// running and the connection is open.
func (c *Connection) Start(ctx context.Context, url string, startupTimeout time.Duration) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	c.state = StateConnecting
	c.url = url
	c.mu.Unlock()

	c.log(slog.LevelInfo, "Opening connection to URL "+url)

	conn, err := c.dialWithRetry(ctx, url, startupTimeout)
	if err != nil {
		c.setState(StateIdle)
		c.log(slog.LevelError, err.Error())
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.cancelRead = cancel
	c.readDone = done
	c.state = StateOpen
	c.mu.Unlock()

	go c.receiveLoop(readCtx, conn, done)

	c.log(slog.LevelInfo, "Connection opened")
	return nil
}

// dialWithRetry polls the endpoint until it accepts a connection.
func (c *Connection) dialWithRetry(ctx context.Context, url string, timeout time.Duration) (Conn, error) {
	started := time.Now()
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()

	for {
		conn, err := c.dial(startCtx, url)
		if err == nil {
			return conn, nil
		}
		c.log(slog.LevelDebug, fmt.Sprintf("Connection attempt failed: %v", err))

		select {
		case <-startCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("connection to %s cancelled: %w", url, ctx.Err())
			}
			return nil, fmt.Errorf("%w: could not connect to %s after %.1f seconds: %v",
				ErrStartupTimeout, url, time.Since(started).Seconds(), err)
		case <-ticker.C:
		}
	}
}

// SendData writes text as one message. Only one send may be in flight;
// a concurrent call fails with ErrAlreadySending instead of waiting.
func (c *Connection) SendData(ctx context.Context, text string) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != StateOpen {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, state)
	}
	if !c.sending.CompareAndSwap(false, true) {
		return ErrAlreadySending
	}
	defer c.sending.Store(false)

	c.log(slog.LevelDebug, "SEND >>> "+text)
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		c.log(slog.LevelError, fmt.Sprintf("Unexpected error during send: %v", err))
		return fmt.Errorf("failed to send data: %w", err)
	}
	c.metrics.BytesSent(len(text))
	return nil
}

// Stop closes the connection. It sends a close frame and waits up to
// shutdownTimeout for the remote end to acknowledge; after that the receive
// loop is cancelled and the socket force-closed. Stop on a connection that
// is not open is a no-op.
func (c *Connection) Stop(ctx context.Context, shutdownTimeout time.Duration) error {
	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		c.log(slog.LevelInfo, "Stop requested on connection in state "+state.String()+"; nothing to do")
		return nil
	}
	c.state = StateClosing
	conn, done, cancelRead := c.conn, c.readDone, c.cancelRead
	c.mu.Unlock()

	c.log(slog.LevelInfo, "Closing connection")

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- conn.Close(websocket.StatusNormalClosure, "client closing")
	}()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	aborted := false
	select {
	case <-done:
	case <-timer.C:
		aborted = true
		c.log(slog.LevelWarn, fmt.Sprintf("Timed out after %s waiting for close acknowledgement", shutdownTimeout))
	case <-ctx.Done():
		aborted = true
		c.log(slog.LevelWarn, fmt.Sprintf("Stop cancelled: %v", ctx.Err()))
	}

	if !aborted {
		select {
		case <-closeDone:
		case <-timer.C:
			aborted = true
		case <-ctx.Done():
			aborted = true
		}
	}

	if aborted {
		cancelRead()
		_ = conn.CloseNow()
		<-done
		<-closeDone
	}
	cancelRead()

	c.mu.Lock()
	switch {
	case aborted:
		c.state = StateAborted
	case c.state == StateClosing:
		c.state = StateClosed
	}
	final := c.state
	c.mu.Unlock()

	c.log(slog.LevelInfo, "Connection stopped with final state "+final.String())
	return nil
}

// receiveLoop reads messages until the socket closes. It never panics out:
// handler failures are logged and the loop continues.
func (c *Connection) receiveLoop(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, c.bufferSize)
	var msg bytes.Buffer

	for {
		typ, r, err := conn.Reader(ctx)
		if err != nil {
			c.handleReceiveError(conn, err)
			return
		}

		msg.Reset()
		if err := readMessage(r, buf, &msg); err != nil {
			c.handleReceiveError(conn, err)
			return
		}

		if typ != websocket.MessageText {
			c.log(slog.LevelWarn, fmt.Sprintf("Ignoring %d byte binary message", msg.Len()))
			continue
		}

		text := msg.String()
		c.metrics.BytesReceived(len(text))
		c.log(slog.LevelDebug, "RECV <<< "+text)
		c.announce(text)
	}
}

// readMessage drains one message through buf into msg.
func readMessage(r io.Reader, buf []byte, msg *bytes.Buffer) error {
	for {
		n, err := r.Read(buf)
		msg.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Connection) announce(text string) {
	defer func() {
		if r := recover(); r != nil {
			c.log(slog.LevelError, fmt.Sprintf("Unexpected panic handling received data: %v", r))
		}
	}()
	if err := c.dataReceived.NotifyObservers(context.Background(), DataReceivedEventArgs{Data: text}); err != nil {
		c.log(slog.LevelError, fmt.Sprintf("Unexpected error handling received data: %v", err))
	}
}

func (c *Connection) handleReceiveError(conn Conn, err error) {
	status := websocket.CloseStatus(err)

	c.mu.Lock()
	prev := c.state
	switch {
	case status != -1:
		c.state = StateClosed
	case prev == StateClosing:
		// Stop is tearing the socket down and decides the final state.
	default:
		c.state = StateAborted
	}
	c.mu.Unlock()

	switch {
	case status != -1 && prev == StateOpen:
		c.log(slog.LevelInfo, fmt.Sprintf("Connection closed by remote end (status %d)", status))
		_ = conn.CloseNow()
	case status != -1:
		c.log(slog.LevelInfo, "Close acknowledged by remote end")
	case prev == StateClosing:
		c.log(slog.LevelDebug, fmt.Sprintf("Receive loop ended during shutdown: %v", err))
	default:
		c.log(slog.LevelError, fmt.Sprintf("Unexpected error during receive: %v", err))
		_ = conn.CloseNow()
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) log(level slog.Level, msg string) {
	c.logger.LogAttrs(context.Background(), level, msg,
		slog.String("component", "connection"),
		slog.String("connection", c.id))
	_ = c.logMessage.NotifyObservers(context.Background(), LogMessageEventArgs{
		Level:     level,
		Message:   msg,
		Component: "connection",
	})
}
