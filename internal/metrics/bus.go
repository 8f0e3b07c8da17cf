// internal/metrics/bus.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/barkprotocol/token-sale-dapp/internal/events"
)

// WatchBus exposes the event bus queue depth and dropped events.
func (m *Metrics) WatchBus(stats func() events.Stats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "pending",
			Help:      "Events queued for delivery",
		}, func() float64 { return float64(stats().Pending) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event_bus",
			Name:      "dropped_total",
			Help:      "Events dropped because the queue was full",
		}, func() float64 { return float64(stats().Dropped) }),
	)
}
