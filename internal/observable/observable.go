// Package observable provides ordered, typed subscriber lists used to deliver
// protocol events and diagnostics to zero or more handlers.
package observable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTooManyObservers is returned by AddObserver when the event already has
// the maximum number of observers it allows.
var ErrTooManyObservers = errors.New("maximum number of observers reached")

// Handler receives a notification.
type Handler[T any] func(ctx context.Context, args T) error

// Event is a list of observers notified in registration order.
type Event[T any] struct {
	name         string
	maxObservers int
	onPanic      func(r any)

	mu        sync.RWMutex
	observers []*Observer[T]
}

// EventOption configures an Event.
type EventOption func(*eventConfig)

type eventConfig struct {
	maxObservers int
	onPanic      func(r any)
}

// WithMaxObservers caps the number of observers. Zero means unlimited.
func WithMaxObservers(n int) EventOption {
	return func(c *eventConfig) {
		c.maxObservers = n
	}
}

// WithPanicHandler is called with the recovered value when a detached
// observer panics. Without it the panic is recovered and dropped.
func WithPanicHandler(fn func(r any)) EventOption {
	return func(c *eventConfig) {
		c.onPanic = fn
	}
}

// NewEvent creates an event. The name is only used in error messages.
func NewEvent[T any](name string, opts ...EventOption) *Event[T] {
	var cfg eventConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Event[T]{
		name:         name,
		maxObservers: cfg.maxObservers,
		onPanic:      cfg.onPanic,
	}
}

// Name returns the event name.
func (e *Event[T]) Name() string {
	return e.name
}

// MaxObservers returns the observer cap, or zero when unlimited.
func (e *Event[T]) MaxObservers() int {
	return e.maxObservers
}

// ObserverCount returns the number of registered observers.
func (e *Event[T]) ObserverCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.observers)
}

// AddObserver registers a handler and returns its observer handle.
func (e *Event[T]) AddObserver(handler Handler[T], opts ...ObserverOption) (*Observer[T], error) {
	if handler == nil {
		return nil, errors.New("observer handler cannot be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxObservers > 0 && len(e.observers) >= e.maxObservers {
		return nil, fmt.Errorf("%s: %w (%d)", e.name, ErrTooManyObservers, e.maxObservers)
	}

	o := &Observer[T]{handler: handler}
	for _, opt := range opts {
		opt(&o.cfg)
	}

	// Copy on write so NotifyObservers can iterate without holding the lock.
	observers := make([]*Observer[T], len(e.observers), len(e.observers)+1)
	copy(observers, e.observers)
	e.observers = append(observers, o)
	return o, nil
}

// RemoveObserver unregisters an observer by identity. Removing an observer
// that is not registered is a no-op.
func (e *Event[T]) RemoveObserver(o *Observer[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.observers {
		if existing == o {
			observers := make([]*Observer[T], 0, len(e.observers)-1)
			observers = append(observers, e.observers[:i]...)
			e.observers = append(observers, e.observers[i+1:]...)
			return
		}
	}
}

// NotifyObservers calls every observer in registration order. Synchronous
// observers run on the caller's goroutine; their errors are joined and
// returned. Detached observers run on their own goroutine; their errors are
// discarded and their panics recovered.
func (e *Event[T]) NotifyObservers(ctx context.Context, args T) error {
	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()

	var errs []error
	for _, o := range observers {
		if o.cfg.detached {
			go e.notifyDetached(ctx, o, args)
			continue
		}
		if err := o.notify(ctx, args); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Event[T]) notifyDetached(ctx context.Context, o *Observer[T], args T) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r)
		}
	}()
	_ = o.notify(ctx, args)
}

// ObserverOption configures an Observer.
type ObserverOption func(*observerConfig)

type observerConfig struct {
	detached bool
}

// WithDetached runs the observer's handler on a separate goroutine so a slow
// handler does not delay the notifier.
func WithDetached() ObserverOption {
	return func(c *observerConfig) {
		c.detached = true
	}
}

// Observer is a registered handler. It also carries an optional checkpoint
// that lets callers wait until the handler has run a given number of times.
type Observer[T any] struct {
	handler Handler[T]
	cfg     observerConfig

	mu         sync.Mutex
	count      int
	checkpoint int
	reached    chan struct{}
}

func (o *Observer[T]) notify(ctx context.Context, args T) error {
	err := o.handler(ctx, args)

	o.mu.Lock()
	o.count++
	if o.reached != nil && o.count >= o.checkpoint {
		close(o.reached)
		o.reached = nil
	}
	o.mu.Unlock()

	return err
}

// IsDetached reports whether the handler runs on its own goroutine.
func (o *Observer[T]) IsDetached() bool {
	return o.cfg.detached
}

// NotificationCount returns how many times the handler has completed.
func (o *Observer[T]) NotificationCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// SetCheckpoint arms a checkpoint that is reached after n further
// notifications. It replaces any previously armed checkpoint.
func (o *Observer[T]) SetCheckpoint(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n < 1 {
		n = 1
	}
	o.checkpoint = o.count + n
	o.reached = make(chan struct{})
}

// WaitForCheckpoint blocks until the armed checkpoint is reached or the
// timeout expires. It returns true if the checkpoint was reached. Without an
// armed checkpoint it returns true immediately.
func (o *Observer[T]) WaitForCheckpoint(timeout time.Duration) bool {
	o.mu.Lock()
	reached := o.reached
	o.mu.Unlock()

	if reached == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-reached:
		return true
	case <-timer.C:
		return false
	}
}
