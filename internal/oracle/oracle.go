// internal/oracle/oracle.go
package oracle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/events"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
)

// Snapshot holds USD rates for both settlement assets at one instant.
type Snapshot struct {
	NativeUSD decimal.Decimal
	StableUSD decimal.Decimal
	FetchedAt time.Time
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// USD returns the USD rate of the given settlement currency.
func (s Snapshot) USD(c sale.Currency) decimal.Decimal {
	if c == sale.Stablecoin {
		return s.StableUSD
	}
	return s.NativeUSD
}

// Source fetches fresh rates from an upstream price service.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Snapshot, error)
}

// Publisher receives price events. *events.Bus satisfies it.
type Publisher interface {
	Publish(event events.Event) error
}

// Oracle caches the last good snapshot. It never fetches on its own; a
// Poller or another caller drives Refresh.
type Oracle struct {
	source  Source
	current atomic.Pointer[Snapshot]
	bus     Publisher
	logger  *zap.Logger
}

func New(source Source, bus Publisher, logger *zap.Logger) *Oracle {
	return &Oracle{
		source: source,
		bus:    bus,
		logger: logger.Named("oracle"),
	}
}

// Refresh fetches a new snapshot and swaps it in. On failure the previous
// snapshot stays in place.
func (o *Oracle) Refresh(ctx context.Context) (Snapshot, error) {
	snap, err := o.source.Fetch(ctx)
	if err != nil {
		o.logger.Warn("Price refresh failed, keeping previous snapshot",
			zap.String("source", o.source.Name()),
			zap.Error(err))
		o.publishFailure(err)
		return Snapshot{}, sale.NewError(sale.ErrOracleUnavailable, o.source.Name(), err)
	}
	if !snap.NativeUSD.IsPositive() || !snap.StableUSD.IsPositive() {
		err := fmt.Errorf("non-positive rate native=%s stable=%s", snap.NativeUSD, snap.StableUSD)
		o.logger.Warn("Rejected price snapshot", zap.Error(err))
		o.publishFailure(err)
		return Snapshot{}, sale.NewError(sale.ErrOracleUnavailable, o.source.Name(), err)
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}

	stored := snap
	o.current.Store(&stored)

	o.logger.Debug("Price snapshot updated",
		zap.String("native_usd", snap.NativeUSD.String()),
		zap.String("stable_usd", snap.StableUSD.String()))

	if o.bus != nil {
		_ = o.bus.Publish(events.PriceUpdatedEvent{
			BaseEvent: events.NewBaseEvent(events.PriceUpdated),
			NativeUSD: snap.NativeUSD,
			StableUSD: snap.StableUSD,
		})
	}
	return snap, nil
}

func (o *Oracle) publishFailure(err error) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(events.PriceRefreshFailedEvent{
		BaseEvent: events.NewBaseEvent(events.PriceRefreshFailed),
		Source:    o.source.Name(),
		Reason:    err.Error(),
	})
}

// Latest returns a copy of the most recent good snapshot without blocking.
func (o *Oracle) Latest() (Snapshot, bool) {
	p := o.current.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}
