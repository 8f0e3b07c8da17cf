// internal/sale/types.go
package sale

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Currency is the asset a buyer settles with.
type Currency int

const (
	Native Currency = iota
	Stablecoin
)

// String returns the ticker used on the wire.
func (c Currency) String() string {
	switch c {
	case Native:
		return "SOL"
	case Stablecoin:
		return "USDC"
	default:
		return fmt.Sprintf("Currency(%d)", int(c))
	}
}

// MarshalText encodes the currency as its ticker.
func (c Currency) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a ticker.
func (c *Currency) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrency(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCurrency accepts the tickers returned by String, case-insensitively.
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SOL", "NATIVE":
		return Native, nil
	case "USDC", "STABLECOIN":
		return Stablecoin, nil
	default:
		return 0, fmt.Errorf("unsupported currency %q", s)
	}
}

// Currencies lists every supported settlement currency.
func Currencies() []Currency {
	return []Currency{Native, Stablecoin}
}

// Config holds the static sale parameters. It is loaded once and never mutated.
type Config struct {
	StartTime       time.Time
	PublicStageTime time.Time
	EndTime         time.Time

	TotalAllocation uint64
	MinPurchase     uint64
	MaxPurchase     uint64

	// Prices are quoted in native coin per sale token.
	PreStagePrice    decimal.Decimal
	PublicStagePrice decimal.Decimal

	ReceivingAddress solana.PublicKey
	TokenMint        solana.PublicKey
	TokenDecimals    uint8

	StablecoinMint     solana.PublicKey
	StablecoinDecimals uint8
	NativeDecimals     uint8
}

// Validate checks the ordering and bound invariants of the configuration.
func (c Config) Validate() error {
	if !c.StartTime.Before(c.PublicStageTime) {
		return fmt.Errorf("start time %s must be before public stage time %s",
			c.StartTime.Format(time.RFC3339), c.PublicStageTime.Format(time.RFC3339))
	}
	if !c.PublicStageTime.Before(c.EndTime) {
		return fmt.Errorf("public stage time %s must be before end time %s",
			c.PublicStageTime.Format(time.RFC3339), c.EndTime.Format(time.RFC3339))
	}
	if c.MinPurchase == 0 {
		return fmt.Errorf("min purchase must be positive")
	}
	if c.MinPurchase > c.MaxPurchase {
		return fmt.Errorf("min purchase %d exceeds max purchase %d", c.MinPurchase, c.MaxPurchase)
	}
	if c.MaxPurchase > c.TotalAllocation {
		return fmt.Errorf("max purchase %d exceeds total allocation %d", c.MaxPurchase, c.TotalAllocation)
	}
	if !c.PreStagePrice.IsPositive() || !c.PublicStagePrice.IsPositive() {
		return fmt.Errorf("stage prices must be positive")
	}
	if c.ReceivingAddress.IsZero() {
		return fmt.Errorf("receiving address is required")
	}
	if c.StablecoinMint.IsZero() {
		return fmt.Errorf("stablecoin mint is required")
	}
	return nil
}

// PurchaseRequest is a buyer's transient request to buy sale tokens.
type PurchaseRequest struct {
	Buyer       solana.PublicKey
	TokenAmount uint64
	Currency    Currency
}

// Quote is the priced, not yet executed result of validating a purchase.
type Quote struct {
	TokenAmount uint64          `json:"tokenAmount"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	Currency    Currency        `json:"currency"`
	Stage       Stage           `json:"stage"`
	PricedAt    time.Time       `json:"pricedAt"`
}

// DecimalFromUint64 converts a token count without going through int64.
func DecimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
