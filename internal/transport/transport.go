// Package transport correlates BiDi commands with their responses and
// routes events, error notifications and unrecognised messages arriving on a
// connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grantcarthew/bidictl/internal/connection"
	"github.com/grantcarthew/bidictl/internal/dispatch"
	"github.com/grantcarthew/bidictl/internal/metrics"
	"github.com/grantcarthew/bidictl/internal/observable"
	"github.com/grantcarthew/bidictl/internal/protocol"
)

const (
	// DefaultStartupTimeout bounds Connect.
	DefaultStartupTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds the close handshake in Disconnect.
	DefaultShutdownTimeout = 10 * time.Second
)

// Connection is the message-level link the transport drives. It is
// satisfied by *connection.Connection.
type Connection interface {
	Start(ctx context.Context, url string, startupTimeout time.Duration) error
	Stop(ctx context.Context, shutdownTimeout time.Duration) error
	SendData(ctx context.Context, text string) error
	IsActive() bool
	OnDataReceived() *observable.Event[connection.DataReceivedEventArgs]
	OnLogMessage() *observable.Event[connection.LogMessageEventArgs]
}

// Transport assigns command IDs, tracks pending commands, and classifies
// every inbound message.
type Transport struct {
	conn            Connection
	logger          *slog.Logger
	metrics         *metrics.Metrics
	startupTimeout  time.Duration
	shutdownTimeout time.Duration

	nextID     atomic.Uint64
	pending    sync.Map // map[uint64]*pendingCommand
	eventTypes sync.Map // map[string]protocol.Decoder

	events *dispatch.Dispatcher[EventReceivedEventArgs]

	closeOnce sync.Once
	closed    chan struct{}

	commandsSent    atomic.Uint64
	responses       atomic.Uint64
	eventCount      atomic.Uint64
	errorEvents     atomic.Uint64
	unknownMessages atomic.Uint64
	pendingCount    atomic.Int64

	onEventReceived      *observable.Event[EventReceivedEventArgs]
	onErrorEventReceived *observable.Event[ErrorReceivedEventArgs]
	onUnknownMessage     *observable.Event[UnknownMessageEventArgs]
	onLogMessage         *observable.Event[connection.LogMessageEventArgs]
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics records command and event counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithStartupTimeout bounds Connect.
func WithStartupTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.startupTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the close handshake in Disconnect.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// New creates a transport over conn and subscribes to its inbound data.
func New(conn Connection, opts ...Option) (*Transport, error) {
	t := &Transport{
		conn:            conn,
		logger:          slog.New(slog.DiscardHandler),
		startupTimeout:  DefaultStartupTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	onPanic := observable.WithPanicHandler(t.observerPanicked)
	t.onEventReceived = observable.NewEvent[EventReceivedEventArgs]("transport.eventReceived", onPanic)
	t.onErrorEventReceived = observable.NewEvent[ErrorReceivedEventArgs]("transport.errorEventReceived", onPanic)
	t.onUnknownMessage = observable.NewEvent[UnknownMessageEventArgs]("transport.unknownMessageReceived", onPanic)
	t.onLogMessage = observable.NewEvent[connection.LogMessageEventArgs]("transport.logMessage", onPanic)

	t.events = dispatch.New(t.deliverEvent,
		dispatch.WithName("events"),
		dispatch.WithMetrics(t.metrics),
		dispatch.WithPanicHandler(func(r any) {
			t.log(slog.LevelError, fmt.Sprintf("Unexpected panic handling event: %v", r))
		}))

	if _, err := conn.OnDataReceived().AddObserver(t.onDataReceived); err != nil {
		t.events.StopDispatching()
		return nil, fmt.Errorf("failed to subscribe to connection data: %w", err)
	}
	if _, err := conn.OnLogMessage().AddObserver(t.forwardLog); err != nil {
		t.events.StopDispatching()
		return nil, fmt.Errorf("failed to subscribe to connection logs: %w", err)
	}
	return t, nil
}

// OnEventReceived is notified with each registered event, on the event
// dispatcher goroutine, in the order events arrived.
func (t *Transport) OnEventReceived() *observable.Event[EventReceivedEventArgs] {
	return t.onEventReceived
}

// OnErrorEventReceived is notified with error messages that carry no
// command ID.
func (t *Transport) OnErrorEventReceived() *observable.Event[ErrorReceivedEventArgs] {
	return t.onErrorEventReceived
}

// OnUnknownMessageReceived is notified with the raw text of every message
// that could not be routed.
func (t *Transport) OnUnknownMessageReceived() *observable.Event[UnknownMessageEventArgs] {
	return t.onUnknownMessage
}

// OnLogMessage is notified with transport diagnostics and those forwarded
// from the connection.
func (t *Transport) OnLogMessage() *observable.Event[connection.LogMessageEventArgs] {
	return t.onLogMessage
}

// Connect starts the underlying connection.
func (t *Transport) Connect(ctx context.Context, url string) error {
	if t.isClosed() {
		return ErrClosed
	}
	return t.conn.Start(ctx, url, t.startupTimeout)
}

// Disconnect stops the connection, then drains events that were already
// received before returning. Waiters on pending commands are released with
// ErrClosed.
func (t *Transport) Disconnect(ctx context.Context) error {
	err := t.conn.Stop(ctx, t.shutdownTimeout)

	t.closeOnce.Do(func() { close(t.closed) })
	t.events.StopDispatching()

	select {
	case <-t.events.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for event delivery to finish: %w", ctx.Err())
	}
	return err
}

// IsConnected reports whether the connection is open.
func (t *Transport) IsConnected() bool {
	return t.conn.IsActive()
}

// RegisterEventType maps an event name to the decoder for its params. It may
// be called at any time, including while traffic is flowing.
func (t *Transport) RegisterEventType(name string, decode protocol.Decoder) {
	t.eventTypes.Store(name, decode)
}

// SendCommand registers cmd as pending and writes it. A zero cmd.ID is
// replaced by the next ID from this transport's counter; cmd itself is not
// modified. A failed write removes the pending entry so the caller may retry.
func (t *Transport) SendCommand(ctx context.Context, cmd *protocol.Command) (uint64, error) {
	if cmd == nil {
		return 0, errors.New("command cannot be nil")
	}
	if t.isClosed() {
		return 0, ErrClosed
	}

	wire := *cmd
	if wire.ID == 0 {
		wire.ID = t.nextID.Add(1)
	}
	id := wire.ID

	data, err := json.Marshal(&wire)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal command %s: %w", cmd.Method, err)
	}

	if _, loaded := t.pending.LoadOrStore(id, newPendingCommand(id, cmd)); loaded {
		return 0, fmt.Errorf("%w: %d", ErrDuplicateCommandID, id)
	}
	t.pendingCount.Add(1)
	t.metrics.CommandSent()

	if err := t.conn.SendData(ctx, string(data)); err != nil {
		t.removePending(id)
		return 0, fmt.Errorf("failed to send command %d (%s): %w", id, cmd.Method, err)
	}
	t.commandsSent.Add(1)
	return id, nil
}

// WaitForCommandComplete blocks until the command's response arrives. A
// non-positive timeout waits for ctx alone. On timeout the command stays
// pending, so a response that arrives later can still be read with
// GetCommandResponse; call AbandonCommand to give up on it.
func (t *Transport) WaitForCommandComplete(ctx context.Context, id uint64, timeout time.Duration) error {
	p, ok := t.lookupPending(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, id)
	}

	started := time.Now()
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-p.done:
		return nil
	case <-expired:
		p.recordOutcome(func() {
			t.metrics.Response(p.command.Method, metrics.OutcomeTimeout, 0)
		})
		return &TimeoutError{ID: id, Method: p.command.Method, Elapsed: time.Since(started)}
	case <-ctx.Done():
		return fmt.Errorf("waiting for command %d (%s): %w", id, p.command.Method, ctx.Err())
	case <-t.closed:
		if p.isComplete() {
			return nil
		}
		return fmt.Errorf("waiting for command %d (%s): %w", id, p.command.Method, ErrClosed)
	}
}

// GetCommandResponse removes a completed command and returns its result. A
// response that did not match the command's result type is returned as the
// decode error. A remote error envelope is returned as a
// *protocol.ErrorResult result, not as an error.
func (t *Transport) GetCommandResponse(id uint64) (protocol.CommandResult, error) {
	p, ok := t.lookupPending(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, id)
	}
	if !p.isComplete() {
		return nil, fmt.Errorf("%w: %d", ErrNotCompleted, id)
	}
	t.removePending(id)

	if p.err != nil {
		return nil, p.err
	}
	if p.result == nil {
		return nil, fmt.Errorf("command %d (%s): %w", id, p.command.Method, ErrNoResult)
	}
	return p.result, nil
}

// AbandonCommand removes a pending command. A response that arrives for it
// afterwards is reported as an unknown message. It reports whether the
// command was pending.
func (t *Transport) AbandonCommand(id uint64) bool {
	if !t.removePending(id) {
		return false
	}
	t.log(slog.LevelDebug, fmt.Sprintf("Abandoned command %d", id))
	return true
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		CommandsSent:    t.commandsSent.Load(),
		Responses:       t.responses.Load(),
		Events:          t.eventCount.Load(),
		ErrorEvents:     t.errorEvents.Load(),
		UnknownMessages: t.unknownMessages.Load(),
		Pending:         int(t.pendingCount.Load()),
	}
}

func (t *Transport) lookupPending(id uint64) (*pendingCommand, bool) {
	v, ok := t.pending.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingCommand), true
}

func (t *Transport) removePending(id uint64) bool {
	if _, loaded := t.pending.LoadAndDelete(id); !loaded {
		return false
	}
	t.pendingCount.Add(-1)
	t.metrics.CommandRemoved()
	return true
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *Transport) onDataReceived(ctx context.Context, args connection.DataReceivedEventArgs) error {
	t.handleMessage(args.Data)
	return nil
}

// handleMessage classifies one inbound message. It never panics out and
// never returns an error: every message is either routed, reported as
// unknown, or logged.
func (t *Transport) handleMessage(text string) {
	msg, err := protocol.ParseInbound([]byte(text))
	if err != nil {
		t.log(slog.LevelError, fmt.Sprintf("Unexpected error parsing message JSON: %v (message: %s)", err, text))
		return
	}

	switch msg.Kind {
	case protocol.KindSuccess:
		t.completeCommand(text, msg)
	case protocol.KindError:
		if msg.ID == nil {
			t.handleErrorEvent(msg.Error)
			return
		}
		t.completeCommand(text, msg)
	case protocol.KindEvent:
		t.routeEvent(text, msg)
	default:
		t.log(slog.LevelDebug, "Unrecognised message: "+msg.Reason)
		t.reportUnknown(text)
	}
}

func (t *Transport) completeCommand(text string, msg *protocol.Inbound) {
	id := *msg.ID
	p, ok := t.lookupPending(id)
	if !ok {
		t.log(slog.LevelWarn, fmt.Sprintf("Response received for unknown or abandoned command %d", id))
		t.reportUnknown(text)
		return
	}

	var (
		result  protocol.CommandResult
		err     error
		outcome string
	)
	if msg.Kind == protocol.KindSuccess {
		decoded, decodeErr := p.command.DecodeResult(msg.Result)
		if decodeErr != nil {
			t.log(slog.LevelError, fmt.Sprintf("Unexpected error parsing result JSON for command %d: %v", id, decodeErr))
			err, outcome = decodeErr, metrics.OutcomeParseError
		} else {
			result, outcome = decoded, metrics.OutcomeSuccess
		}
	} else {
		result, outcome = msg.Error, metrics.OutcomeError
	}

	if !p.complete(result, err) {
		t.log(slog.LevelWarn, fmt.Sprintf("Duplicate response for command %d ignored", id))
		t.reportUnknown(text)
		return
	}
	t.responses.Add(1)
	p.recordOutcome(func() {
		t.metrics.Response(p.command.Method, outcome, time.Since(p.sentAt))
	})
}

func (t *Transport) handleErrorEvent(errResult *protocol.ErrorResult) {
	t.errorEvents.Add(1)
	t.log(slog.LevelWarn, "Error received from remote end: "+errResult.Error())
	if err := t.onErrorEventReceived.NotifyObservers(context.Background(), ErrorReceivedEventArgs{Error: errResult}); err != nil {
		t.log(slog.LevelError, fmt.Sprintf("Unexpected error handling error event: %v", err))
	}
}

func (t *Transport) routeEvent(text string, msg *protocol.Inbound) {
	v, ok := t.eventTypes.Load(msg.Method)
	if !ok {
		t.log(slog.LevelDebug, "No event type registered for "+msg.Method)
		t.reportUnknown(text)
		return
	}

	data, extra, err := v.(protocol.Decoder)(msg.Params)
	if err != nil {
		t.log(slog.LevelError, fmt.Sprintf("Unexpected error parsing event JSON for %s: %v", msg.Method, err))
		t.reportUnknown(text)
		return
	}

	t.eventCount.Add(1)
	t.metrics.EventReceived(msg.Method)
	args := EventReceivedEventArgs{Name: msg.Method, Data: data, AdditionalData: extra}
	if !t.events.TryDispatch(args) {
		t.log(slog.LevelWarn, fmt.Sprintf("Event %s received after shutdown was dropped", msg.Method))
	}
}

func (t *Transport) deliverEvent(args EventReceivedEventArgs) {
	if err := t.onEventReceived.NotifyObservers(context.Background(), args); err != nil {
		t.log(slog.LevelError, fmt.Sprintf("Unexpected error handling event %s: %v", args.Name, err))
	}
}

func (t *Transport) reportUnknown(text string) {
	t.unknownMessages.Add(1)
	t.metrics.UnknownMessage()
	if err := t.onUnknownMessage.NotifyObservers(context.Background(), UnknownMessageEventArgs{Message: text}); err != nil {
		t.log(slog.LevelError, fmt.Sprintf("Unexpected error handling unknown message: %v", err))
	}
}

func (t *Transport) forwardLog(ctx context.Context, args connection.LogMessageEventArgs) error {
	return t.onLogMessage.NotifyObservers(ctx, args)
}

// observerPanicked logs a panic from a detached observer. It does not
// notify OnLogMessage, whose own observers may be the ones panicking.
func (t *Transport) observerPanicked(r any) {
	t.logger.LogAttrs(context.Background(), slog.LevelError,
		fmt.Sprintf("Unexpected panic in detached observer: %v", r),
		slog.String("component", "transport"))
}

func (t *Transport) log(level slog.Level, msg string) {
	t.logger.LogAttrs(context.Background(), level, msg, slog.String("component", "transport"))
	_ = t.onLogMessage.NotifyObservers(context.Background(), connection.LogMessageEventArgs{
		Level:     level,
		Message:   msg,
		Component: "transport",
	})
}
