// internal/metrics/metrics.go
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/barkprotocol/token-sale-dapp/internal/events"
)

const namespace = "token_sale"

// Metrics holds the sale collectors on a dedicated registry. It is fed from
// the event bus and never touches the purchase path directly.
type Metrics struct {
	registry *prometheus.Registry

	purchases       *prometheus.CounterVec
	tokensSold      prometheus.Gauge
	buildDuration   prometheus.Histogram
	oracleRefreshes *prometheus.CounterVec
	priceUSD        *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_total",
				Help:      "Purchase lifecycle steps by settlement currency",
			},
			[]string{"currency", "result"},
		),
		tokensSold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tokens_sold",
			Help:      "Sale tokens currently reserved or sold",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "purchase_build_duration_seconds",
			Help:      "Time from reservation to a built payload",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 10),
		}),
		oracleRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_refreshes_total",
				Help:      "Price refreshes by outcome",
			},
			[]string{"result"},
		),
		priceUSD: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "price_usd",
				Help:      "Last accepted USD rate per settlement asset",
			},
			[]string{"asset"},
		),
	}

	m.registry.MustRegister(
		m.purchases,
		m.tokensSold,
		m.buildDuration,
		m.oracleRefreshes,
		m.priceUSD,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is what the /metrics handler serves.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetSold seeds the sold gauge from the ledger at startup.
func (m *Metrics) SetSold(sold uint64) {
	m.tokensSold.Set(float64(sold))
}

// Attach subscribes the collectors to every sale event on bus.
func (m *Metrics) Attach(bus *events.Bus) events.Subscription {
	return bus.SubscribeFunc(m.Handle,
		events.PurchaseReserved,
		events.PurchaseBuilt,
		events.PurchaseFailed,
		events.PurchaseCompensated,
		events.PriceUpdated,
		events.PriceRefreshFailed,
	)
}

// Handle implements events.Handler.
func (m *Metrics) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.PurchaseEvent:
		m.purchases.WithLabelValues(e.Currency, result(e.Type())).Inc()
		switch e.Type() {
		case events.PurchaseReserved:
			m.tokensSold.Add(float64(e.TokenAmount))
		case events.PurchaseCompensated:
			m.tokensSold.Sub(float64(e.TokenAmount))
		case events.PurchaseBuilt:
			m.buildDuration.Observe(e.Duration.Seconds())
		}
	case events.PriceUpdatedEvent:
		m.oracleRefreshes.WithLabelValues("success").Inc()
		m.priceUSD.WithLabelValues("native").Set(e.NativeUSD.InexactFloat64())
		m.priceUSD.WithLabelValues("stable").Set(e.StableUSD.InexactFloat64())
	case events.PriceRefreshFailedEvent:
		m.oracleRefreshes.WithLabelValues("failed").Inc()
	}
	return nil
}

func result(t events.EventType) string {
	switch t {
	case events.PurchaseReserved:
		return "reserved"
	case events.PurchaseBuilt:
		return "built"
	case events.PurchaseFailed:
		return "failed"
	case events.PurchaseCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

var _ events.Handler = (*Metrics)(nil)
