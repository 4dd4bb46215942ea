// Package metrics exposes broker counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hay-kot/weave/internal/core/werr"
)

const namespace = "weave"

// Registry bundles the Prometheus registry with the broker metrics.
type Registry struct {
	reg    *prometheus.Registry
	Broker *Broker
}

// NewRegistry creates a registry holding the broker metrics plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		reg:    reg,
		Broker: NewBroker(reg),
	}
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Broker holds the broker's metrics. A nil *Broker is valid and records
// nothing.
type Broker struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected prometheus.Counter
	operations          *prometheus.CounterVec
	deliveries          prometheus.Counter
	channels            prometheus.Gauge
}

// NewBroker creates the broker metrics and registers them with reg.
func NewBroker(reg prometheus.Registerer) *Broker {
	b := &Broker{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connections_active",
			Help:      "Currently open client connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connections_total",
			Help:      "Client connections accepted",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connections_rejected_total",
			Help:      "Client connections refused because the limit was reached",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "operations_total",
			Help:      "Operations handled, by operation and outcome",
		}, []string{"operation", "result"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "deliveries_total",
			Help:      "Messages delivered to popping clients",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "channels",
			Help:      "Registered channels",
		}),
	}

	reg.MustRegister(
		b.connectionsActive,
		b.connectionsTotal,
		b.connectionsRejected,
		b.operations,
		b.deliveries,
		b.channels,
	)
	return b
}

func (b *Broker) ConnOpened() {
	if b == nil {
		return
	}
	b.connectionsActive.Inc()
	b.connectionsTotal.Inc()
}

func (b *Broker) ConnClosed() {
	if b == nil {
		return
	}
	b.connectionsActive.Dec()
}

func (b *Broker) ConnRejected() {
	if b == nil {
		return
	}
	b.connectionsRejected.Inc()
}

// Operation counts one handled operation. The result label is "ok" or the
// error kind.
func (b *Broker) Operation(op string, err error) {
	if b == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(werr.KindOf(err))
	}
	b.operations.WithLabelValues(op, result).Inc()
}

func (b *Broker) Delivered() {
	if b == nil {
		return
	}
	b.deliveries.Inc()
}

func (b *Broker) SetChannels(n int) {
	if b == nil {
		return
	}
	b.channels.Set(float64(n))
}
