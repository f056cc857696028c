// Package dispatch provides an ordered background delivery queue that
// decouples producers from a single consumer.
package dispatch

import (
	"sync"

	"github.com/grantcarthew/bidictl/internal/metrics"
)

// Dispatcher delivers items to one consumer function on a dedicated
// goroutine, in the order they were dispatched. Producers never block.
type Dispatcher[T any] struct {
	consume func(T)
	name    string
	metrics *metrics.Metrics
	onPanic func(any)

	mu      sync.Mutex
	queue   []T
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	name    string
	metrics *metrics.Metrics
	onPanic func(any)
}

// WithName sets the name used for metrics labels.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMetrics reports queue depth and delivery counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPanicHandler is called with the recovered value when the consumer
// panics. Delivery continues with the next item either way.
func WithPanicHandler(fn func(any)) Option {
	return func(o *options) {
		o.onPanic = fn
	}
}

// New creates a dispatcher and starts its consumer goroutine.
func New[T any](consume func(T), opts ...Option) *Dispatcher[T] {
	if consume == nil {
		panic("dispatch: consume function cannot be nil")
	}

	o := options{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher[T]{
		consume: consume,
		name:    o.name,
		metrics: o.metrics,
		onPanic: o.onPanic,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// TryDispatch enqueues an item. It returns false if the dispatcher has been
// stopped; the item is not queued in that case.
func (d *Dispatcher[T]) TryDispatch(item T) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, item)
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.QueueDepth(d.name, depth)
	d.signal()
	return true
}

// StopDispatching refuses further items. Items already queued are still
// delivered. Safe to call more than once.
func (d *Dispatcher[T]) StopDispatching() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.signal()
}

// IsDispatching reports whether new items are accepted.
func (d *Dispatcher[T]) IsDispatching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped
}

// Done is closed once the dispatcher has stopped and delivered every queued
// item.
func (d *Dispatcher[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until Done is closed.
func (d *Dispatcher[T]) Wait() {
	<-d.done
}

// Len returns the number of queued, undelivered items.
func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher[T]) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher[T]) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			stopped := d.stopped
			d.mu.Unlock()
			if stopped {
				return
			}
			<-d.wake
			continue
		}
		item := d.queue[0]
		var zero T
		d.queue[0] = zero
		d.queue = d.queue[1:]
		depth := len(d.queue)
		d.mu.Unlock()

		d.metrics.QueueDepth(d.name, depth)
		d.deliver(item)
	}
}

// deliver runs the consumer, containing panics so one bad item does not stop
// delivery of the rest.
func (d *Dispatcher[T]) deliver(item T) {
	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(r)
		}
	}()
	d.consume(item)
	d.metrics.Dispatched(d.name)
}
