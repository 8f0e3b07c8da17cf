// internal/purchase/info.go
package purchase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barkprotocol/token-sale-dapp/internal/sale"
)

// Info is everything a sale page polls for.
type Info struct {
	Stage           sale.Stage                        `json:"stage"`
	Active          bool                              `json:"active"`
	UnitPrices      map[sale.Currency]decimal.Decimal `json:"unitPrices"`
	SoldAmount      uint64                            `json:"soldAmount"`
	RemainingAmount uint64                            `json:"remainingAmount"`
	TotalAllocation uint64                            `json:"totalAllocation"`
	ProgressPercent decimal.Decimal                   `json:"progressPercent"`
	MinPurchase     uint64                            `json:"minPurchase"`
	MaxPurchase     uint64                            `json:"maxPurchase"`
	StartTime       time.Time                         `json:"startTime"`
	PublicStageTime time.Time                         `json:"publicStageTime"`
	EndTime         time.Time                         `json:"endTime"`
	PricesUpdatedAt *time.Time                        `json:"pricesUpdatedAt,omitempty"`
}

// SaleInfo reports the current stage, prices and allocation. Currencies whose
// price is unavailable are left out of UnitPrices.
func (s *Service) SaleInfo(ctx context.Context) (Info, error) {
	now := s.now()
	stage := sale.CurrentStage(now, s.cfg)

	alloc, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return Info{}, err
	}

	snap := s.snapshot()
	prices := make(map[sale.Currency]decimal.Decimal, 2)
	for _, c := range sale.Currencies() {
		price, err := s.engine.UnitPrice(stage, c, snap)
		if err != nil {
			continue
		}
		prices[c] = price
	}

	info := Info{
		Stage:           stage,
		Active:          stage.Active(),
		UnitPrices:      prices,
		SoldAmount:      alloc.Sold,
		RemainingAmount: alloc.Remaining,
		TotalAllocation: alloc.Total,
		ProgressPercent: alloc.Progress,
		MinPurchase:     s.cfg.MinPurchase,
		MaxPurchase:     s.cfg.MaxPurchase,
		StartTime:       s.cfg.StartTime,
		PublicStageTime: s.cfg.PublicStageTime,
		EndTime:         s.cfg.EndTime,
	}
	if snap != nil {
		fetched := snap.FetchedAt
		info.PricesUpdatedAt = &fetched
	}
	return info, nil
}
