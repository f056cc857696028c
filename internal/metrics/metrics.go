// Package metrics exposes Prometheus collectors for the BiDi transport.
//
// All methods are safe to call on a nil *Metrics, so components can record
// unconditionally and only pay for metrics when a registry was supplied.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "bidictl"

// Outcome labels for command responses.
const (
	OutcomeSuccess    = "success"
	OutcomeError      = "error"
	OutcomeParseError = "parse_error"
	OutcomeTimeout    = "timeout"
)

// Metrics holds the collectors shared by the connection, transport and
// dispatcher.
type Metrics struct {
	commandsSent    prometheus.Counter
	responses       *prometheus.CounterVec
	events          *prometheus.CounterVec
	unknownMessages prometheus.Counter
	pendingCommands prometheus.Gauge
	commandLatency  *prometheus.HistogramVec
	bytesReceived   prometheus.Counter
	bytesSent       prometheus.Counter
	queueDepth      *prometheus.GaugeVec
	dispatched      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Total commands written to the connection",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_responses_total",
			Help:      "Command responses by outcome",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Events received by protocol event name",
		}, []string{"event"}),
		unknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_messages_total",
			Help:      "Inbound messages that could not be classified or routed",
		}),
		pendingCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "Commands awaiting a response",
		}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from send to response per command method",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Bytes of complete messages read from the socket",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Bytes written to the socket",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Items waiting in a dispatcher queue",
		}, []string{"dispatcher"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Items delivered by a dispatcher",
		}, []string{"dispatcher"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.commandsSent, m.responses, m.events, m.unknownMessages,
		m.pendingCommands, m.commandLatency, m.bytesReceived, m.bytesSent,
		m.queueDepth, m.dispatched,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics already registered: %w", err)
			}
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// NewRegistry returns a registry with the Go runtime and process collectors
// plus the bidictl collectors.
func NewRegistry() (*prometheus.Registry, *Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := New(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, m, nil
}

// CommandSent records a command write and a new pending entry.
func (m *Metrics) CommandSent() {
	if m == nil {
		return
	}
	m.commandsSent.Inc()
	m.pendingCommands.Inc()
}

// CommandRemoved records that a pending entry left the pending map.
func (m *Metrics) CommandRemoved() {
	if m == nil {
		return
	}
	m.pendingCommands.Dec()
}

// Response records a response outcome and, when known, its latency.
func (m *Metrics) Response(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(outcome).Inc()
	if method != "" && elapsed > 0 {
		m.commandLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

// EventReceived records a routed event.
func (m *Metrics) EventReceived(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

// UnknownMessage records a message reported on the unknown-message channel.
func (m *Metrics) UnknownMessage() {
	if m == nil {
		return
	}
	m.unknownMessages.Inc()
}

// BytesReceived records the size of a complete inbound message.
func (m *Metrics) BytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// BytesSent records the size of an outbound message.
func (m *Metrics) BytesSent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
}

// QueueDepth sets the current depth of the named dispatcher queue.
func (m *Metrics) QueueDepth(dispatcher string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(dispatcher).Set(float64(depth))
}

// Dispatched records a delivered item for the named dispatcher.
func (m *Metrics) Dispatched(dispatcher string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(dispatcher).Inc()
}
