// Package driver executes BiDi commands and delivers typed events on top of
// a transport, and hosts the protocol modules built on it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grantcarthew/bidictl/internal/connection"
	"github.com/grantcarthew/bidictl/internal/observable"
	"github.com/grantcarthew/bidictl/internal/protocol"
	"github.com/grantcarthew/bidictl/internal/transport"
)

const (
	// DefaultCommandTimeout applies when a caller passes no timeout.
	DefaultCommandTimeout = 60 * time.Second
	// DefaultSendRetryInterval is the pause before retrying a send that
	// collided with another in-flight send.
	DefaultSendRetryInterval = 5 * time.Millisecond
)

// Module is a protocol domain exposed through the driver.
type Module interface {
	ModuleName() string
}

// EventArgs is a typed event notification.
type EventArgs[T any] struct {
	Name           string
	Params         T
	AdditionalData map[string]any
}

type eventRoute func(ctx context.Context, args transport.EventReceivedEventArgs) error

// eventRegistration is the single observable and route kept per event name.
// event holds a *observable.Event[EventArgs[T]].
type eventRegistration struct {
	event any
	route eventRoute
}

// Driver is the entry point for executing commands and observing events.
type Driver struct {
	transport         *transport.Transport
	logger            *slog.Logger
	defaultTimeout    time.Duration
	sendRetryInterval time.Duration

	mu      sync.RWMutex
	modules map[string]Module
	routes  map[string]*eventRegistration
}

// Option configures a Driver.
type Option func(*Driver)

// WithDefaultCommandTimeout sets the timeout used when a caller passes none.
func WithDefaultCommandTimeout(d time.Duration) Option {
	return func(drv *Driver) {
		if d > 0 {
			drv.defaultTimeout = d
		}
	}
}

// WithSendRetryInterval sets the pause between send attempts that collide
// with another in-flight send.
func WithSendRetryInterval(d time.Duration) Option {
	return func(drv *Driver) {
		if d > 0 {
			drv.sendRetryInterval = d
		}
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(drv *Driver) {
		if logger != nil {
			drv.logger = logger
		}
	}
}

// New creates a driver over t.
func New(t *transport.Transport, opts ...Option) (*Driver, error) {
	d := &Driver{
		transport:         t,
		logger:            slog.New(slog.DiscardHandler),
		defaultTimeout:    DefaultCommandTimeout,
		sendRetryInterval: DefaultSendRetryInterval,
		modules:           make(map[string]Module),
		routes:            make(map[string]*eventRegistration),
	}
	for _, opt := range opts {
		opt(d)
	}

	if _, err := t.OnEventReceived().AddObserver(d.routeEvent); err != nil {
		return nil, fmt.Errorf("failed to subscribe to transport events: %w", err)
	}
	return d, nil
}

// Transport returns the underlying transport.
func (d *Driver) Transport() *transport.Transport {
	return d.transport
}

// DefaultCommandTimeout returns the timeout used when a caller passes none.
func (d *Driver) DefaultCommandTimeout() time.Duration {
	return d.defaultTimeout
}

// Start connects to the remote end at url.
func (d *Driver) Start(ctx context.Context, url string) error {
	return d.transport.Connect(ctx, url)
}

// Stop disconnects, delivering events already received first.
func (d *Driver) Stop(ctx context.Context) error {
	return d.transport.Disconnect(ctx)
}

// RegisterModule adds m to the registry, replacing any module with the
// same name.
func (d *Driver) RegisterModule(m Module) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modules[m.ModuleName()] = m
}

// Module returns a registered module by name.
func (d *Driver) Module(name string) (Module, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return m, nil
}

// ExecuteCommand sends cmd and waits for its result. A non-positive timeout
// uses the driver default. Every failure, including an error returned by
// the remote end, is a *CommandError. On timeout the command is abandoned,
// so a late response is reported as an unknown message.
func (d *Driver) ExecuteCommand(ctx context.Context, cmd *protocol.Command, timeout time.Duration) (protocol.CommandResult, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}
	timeout = d.effectiveTimeout(timeout)
	fail := func(err error) error {
		return &CommandError{Method: cmd.Method, Timeout: timeout, Err: err}
	}

	deadline := time.Now().Add(timeout)
	id, err := d.send(ctx, cmd, deadline)
	if err != nil {
		return nil, fail(err)
	}

	if err := d.transport.WaitForCommandComplete(ctx, id, max(time.Until(deadline), time.Millisecond)); err != nil {
		d.transport.AbandonCommand(id)
		return nil, fail(err)
	}

	result, err := d.transport.GetCommandResponse(id)
	if err != nil {
		return nil, fail(err)
	}
	if errResult, ok := result.(*protocol.ErrorResult); ok {
		return nil, fail(errResult)
	}
	return result, nil
}

func (d *Driver) effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return d.defaultTimeout
	}
	return timeout
}

// send retries while another send holds the connection, until deadline.
func (d *Driver) send(ctx context.Context, cmd *protocol.Command, deadline time.Time) (uint64, error) {
	for {
		id, err := d.transport.SendCommand(ctx, cmd)
		if !errors.Is(err, connection.ErrAlreadySending) || time.Now().After(deadline) {
			return id, err
		}

		select {
		case <-time.After(d.sendRetryInterval):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Execute runs method with params and returns its result decoded as T.
func Execute[T any](ctx context.Context, d *Driver, method string, params any, timeout time.Duration) (T, error) {
	var zero T
	result, err := d.ExecuteCommand(ctx, protocol.NewTypedCommand[T](method, params), timeout)
	if err != nil {
		return zero, err
	}

	timeout = d.effectiveTimeout(timeout)
	success, ok := result.(*protocol.SuccessResult)
	if !ok {
		return zero, &CommandError{Method: method, Timeout: timeout, Err: fmt.Errorf("unexpected result %T", result)}
	}
	value, ok := success.Value.(T)
	if !ok {
		return zero, &CommandError{Method: method, Timeout: timeout, Err: fmt.Errorf("unexpected result type %T", success.Value)}
	}
	return value, nil
}

// RegisterEvent maps the protocol event name to params of type T and
// returns the observable its notifications are delivered on. Observers run
// on the transport's event goroutine in arrival order. Every registration
// of a name with the same T returns the same observable, and opts only
// apply to the first. Registering a name with a different T fails with
// ErrEventTypeConflict.
func RegisterEvent[T any](d *Driver, name string, opts ...observable.EventOption) (*observable.Event[EventArgs[T]], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if reg, ok := d.routes[name]; ok {
		event, ok := reg.event.(*observable.Event[EventArgs[T]])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEventTypeConflict, name)
		}
		return event, nil
	}

	opts = append(opts[:len(opts):len(opts)], observable.WithPanicHandler(func(r any) {
		d.logger.Error("Unexpected panic in detached observer", "event", name, "panic", r)
	}))
	event := observable.NewEvent[EventArgs[T]](name, opts...)

	route := func(ctx context.Context, args transport.EventReceivedEventArgs) error {
		params, ok := args.Data.(T)
		if !ok {
			return fmt.Errorf("event %s: unexpected params type %T", name, args.Data)
		}
		return event.NotifyObservers(ctx, EventArgs[T]{
			Name:           args.Name,
			Params:         params,
			AdditionalData: args.AdditionalData,
		})
	}

	d.routes[name] = &eventRegistration{event: event, route: route}
	d.transport.RegisterEventType(name, protocol.DecoderFor[T]())
	return event, nil
}

func (d *Driver) routeEvent(ctx context.Context, args transport.EventReceivedEventArgs) error {
	d.mu.RLock()
	reg, ok := d.routes[args.Name]
	d.mu.RUnlock()

	if !ok {
		d.logger.Debug("event has no typed route", "event", args.Name)
		return nil
	}
	return reg.route(ctx, args)
}
