// internal/pricing/engine.go
package pricing

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barkprotocol/token-sale-dapp/internal/oracle"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
)

// DivisionPrecision is the number of fractional digits kept by every division.
const DivisionPrecision = 18

// DisplayDecimals is the precision costs are shown with.
const DisplayDecimals = 6

var (
	maxUnits = sale.DecimalFromUint64(math.MaxUint64)
	errStale = errors.New("snapshot older than max price age")
)

// Engine prices purchases from the static stage prices and an oracle snapshot.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	cfg    sale.Config
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Engine)

// WithMaxPriceAge makes snapshots older than d count as unavailable. Zero
// disables the check.
func WithMaxPriceAge(d time.Duration) Option {
	return func(e *Engine) { e.maxAge = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg sale.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StagePrice returns the native-coin price of one token in the given stage.
// Before the sale the pre-sale price is advertised, after it the public one.
func (e *Engine) StagePrice(stage sale.Stage) decimal.Decimal {
	switch stage {
	case sale.PublicSale, sale.Ended:
		return e.cfg.PublicStagePrice
	default:
		return e.cfg.PreStagePrice
	}
}

// UnitPrice returns the price of one token in currency. A nil snapshot is only
// acceptable for native prices.
func (e *Engine) UnitPrice(stage sale.Stage, currency sale.Currency, snap *oracle.Snapshot) (decimal.Decimal, error) {
	price := e.StagePrice(stage)
	if currency == sale.Native {
		return price, nil
	}
	return e.Convert(price, sale.Native, currency, snap)
}

// Convert moves amount from one settlement currency to another through USD.
func (e *Engine) Convert(amount decimal.Decimal, from, to sale.Currency, snap *oracle.Snapshot) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	if err := e.usable(snap); err != nil {
		return decimal.Zero, err
	}
	fromUSD := snap.USD(from)
	toUSD := snap.USD(to)
	if !fromUSD.IsPositive() || !toUSD.IsPositive() {
		return decimal.Zero, sale.NewError(sale.ErrPriceUnavailable, "convert", nil)
	}
	return amount.Mul(fromUSD).DivRound(toUSD, DivisionPrecision), nil
}

// Quote prices a whole request.
func (e *Engine) Quote(stage sale.Stage, req sale.PurchaseRequest, snap *oracle.Snapshot) (sale.Quote, error) {
	if req.TokenAmount == 0 {
		return sale.Quote{}, sale.NewError(sale.ErrInvalidAmount, "quote", nil)
	}
	unit, err := e.UnitPrice(stage, req.Currency, snap)
	if err != nil {
		return sale.Quote{}, err
	}
	return sale.Quote{
		TokenAmount: req.TokenAmount,
		UnitPrice:   unit,
		TotalCost:   unit.Mul(sale.DecimalFromUint64(req.TokenAmount)),
		Currency:    req.Currency,
		Stage:       stage,
		PricedAt:    e.now().UTC(),
	}, nil
}

// Decimals returns the on-chain decimals of a settlement currency.
func (e *Engine) Decimals(currency sale.Currency) uint8 {
	if currency == sale.Stablecoin {
		return e.cfg.StablecoinDecimals
	}
	return e.cfg.NativeDecimals
}

// BaseUnits converts a cost to the chain's smallest unit of currency,
// rounding half up.
func (e *Engine) BaseUnits(cost decimal.Decimal, currency sale.Currency) (uint64, error) {
	return ToBaseUnits(cost, e.Decimals(currency))
}

// ToBaseUnits scales amount by 10^decimals and rounds half up. Results that
// round to zero or overflow uint64 are InvalidAmount.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	units := amount.Shift(int32(decimals)).Round(0)
	if !units.IsPositive() {
		return 0, sale.NewError(sale.ErrInvalidAmount, "base units", nil)
	}
	if units.GreaterThan(maxUnits) {
		return 0, sale.NewError(sale.ErrInvalidAmount, "base units", nil)
	}
	return units.BigInt().Uint64(), nil
}

// FormatCost renders a cost with the display precision.
func FormatCost(cost decimal.Decimal) string {
	return cost.StringFixed(DisplayDecimals)
}

func (e *Engine) usable(snap *oracle.Snapshot) error {
	if snap == nil {
		return sale.NewError(sale.ErrPriceUnavailable, "price snapshot", nil)
	}
	if e.maxAge > 0 && snap.Age(e.now()) > e.maxAge {
		return sale.NewError(sale.ErrPriceUnavailable, "price snapshot", errStale)
	}
	return nil
}
