// internal/sale/ledger.go
package sale

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CounterStore owns the sold-token counter. Implementations must make Reserve
// and Release single atomic compare-and-update steps.
type CounterStore interface {
	Sold(ctx context.Context) (uint64, error)
	// Reserve adds amount when the result stays within limit and returns the
	// new total. It returns ErrInsufficientSupply otherwise.
	Reserve(ctx context.Context, amount, limit uint64) (uint64, error)
	// Release subtracts amount, failing rather than going below zero.
	Release(ctx context.Context, amount uint64) (uint64, error)
}

// Allocation is a point-in-time view of the ledger.
type Allocation struct {
	Total     uint64
	Sold      uint64
	Remaining uint64
	// Progress is the sold share in percent, two decimal places.
	Progress decimal.Decimal
}

// Ledger enforces the purchase bounds and the hard cap of the sale.
type Ledger struct {
	cfg    Config
	store  CounterStore
	logger *zap.Logger
}

func NewLedger(cfg Config, store CounterStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("ledger"),
	}
}

// Validate checks amount against the per-purchase bounds and the supply left.
func (l *Ledger) Validate(ctx context.Context, amount uint64) error {
	if amount < l.cfg.MinPurchase {
		return BoundError(ErrBelowMinimum, "validate", l.cfg.MinPurchase)
	}
	if amount > l.cfg.MaxPurchase {
		return BoundError(ErrAboveMaximum, "validate", l.cfg.MaxPurchase)
	}
	sold, err := l.store.Sold(ctx)
	if err != nil {
		return fmt.Errorf("read sold amount: %w", err)
	}
	remaining := l.remaining(sold)
	if amount > remaining {
		return BoundError(ErrInsufficientSupply, "validate", remaining)
	}
	return nil
}

// Reserve atomically consumes amount of the remaining allocation.
func (l *Ledger) Reserve(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return NewError(ErrInvalidAmount, "reserve", nil)
	}
	sold, err := l.store.Reserve(ctx, amount, l.cfg.TotalAllocation)
	if err != nil {
		if errors.Is(err, ErrInsufficientSupply) {
			current, readErr := l.store.Sold(ctx)
			if readErr != nil {
				current = l.cfg.TotalAllocation
			}
			return BoundError(ErrInsufficientSupply, "reserve", l.remaining(current))
		}
		return fmt.Errorf("reserve %d tokens: %w", amount, err)
	}
	l.logger.Debug("Allocation reserved",
		zap.Uint64("amount", amount),
		zap.Uint64("sold", sold))
	return nil
}

// Compensate returns a previously reserved amount to the pool. Only the
// purchase orchestrator calls this, after a reservation whose payload was
// never produced or never broadcast.
func (l *Ledger) Compensate(ctx context.Context, amount uint64) error {
	sold, err := l.store.Release(ctx, amount)
	if err != nil {
		return fmt.Errorf("compensate %d tokens: %w", amount, err)
	}
	l.logger.Info("Reservation compensated",
		zap.Uint64("amount", amount),
		zap.Uint64("sold", sold))
	return nil
}

// Snapshot reads the current allocation figures.
func (l *Ledger) Snapshot(ctx context.Context) (Allocation, error) {
	sold, err := l.store.Sold(ctx)
	if err != nil {
		return Allocation{}, fmt.Errorf("read sold amount: %w", err)
	}
	progress := decimal.Zero
	if l.cfg.TotalAllocation > 0 {
		progress = DecimalFromUint64(sold).
			Mul(decimal.NewFromInt(100)).
			DivRound(DecimalFromUint64(l.cfg.TotalAllocation), 2)
	}
	return Allocation{
		Total:     l.cfg.TotalAllocation,
		Sold:      sold,
		Remaining: l.remaining(sold),
		Progress:  progress,
	}, nil
}

func (l *Ledger) remaining(sold uint64) uint64 {
	if sold >= l.cfg.TotalAllocation {
		return 0
	}
	return l.cfg.TotalAllocation - sold
}

// MemoryCounter keeps the sold amount in process memory. It is lost on
// restart; production deployments use a durable CounterStore.
type MemoryCounter struct {
	sold atomic.Uint64
}

func NewMemoryCounter(initial uint64) *MemoryCounter {
	c := &MemoryCounter{}
	c.sold.Store(initial)
	return c
}

func (c *MemoryCounter) Sold(_ context.Context) (uint64, error) {
	return c.sold.Load(), nil
}

func (c *MemoryCounter) Reserve(_ context.Context, amount, limit uint64) (uint64, error) {
	for {
		current := c.sold.Load()
		if current > limit || amount > limit-current {
			return current, ErrInsufficientSupply
		}
		if c.sold.CompareAndSwap(current, current+amount) {
			return current + amount, nil
		}
	}
}

func (c *MemoryCounter) Release(_ context.Context, amount uint64) (uint64, error) {
	for {
		current := c.sold.Load()
		if amount > current {
			return current, fmt.Errorf("release %d exceeds sold amount %d", amount, current)
		}
		if c.sold.CompareAndSwap(current, current-amount) {
			return current - amount, nil
		}
	}
}

var _ CounterStore = (*MemoryCounter)(nil)
