// internal/storage/postgres/purchases.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/barkprotocol/token-sale-dapp/internal/blockchain"
	"github.com/barkprotocol/token-sale-dapp/internal/purchase"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/storage/models"
)

func (p *sqlStorage) Create(ctx context.Context, rec purchase.Record) error {
	row := toModel(rec)
	if err := p.withContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save purchase %s: %w", rec.ID, err)
	}
	return nil
}

func (p *sqlStorage) Get(ctx context.Context, id uuid.UUID) (purchase.Record, error) {
	var row models.Purchase
	err := p.withContext(ctx).Where("id = ?", id.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return purchase.Record{}, sale.NewError(sale.ErrPurchaseNotFound, id.String(), nil)
	}
	if err != nil {
		return purchase.Record{}, fmt.Errorf("failed to load purchase %s: %w", id, err)
	}
	return fromModel(row)
}

func (p *sqlStorage) Issue(ctx context.Context, id uuid.UUID, ref blockchain.BlockRef) error {
	res := p.withContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", id.String(), string(purchase.StatusPending)).
		Updates(map[string]interface{}{
			"blockhash":               hashString(ref.Blockhash),
			"last_valid_block_height": ref.LastValidBlockHeight,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to issue payload of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return p.notPending(ctx, id)
	}
	return nil
}

func (p *sqlStorage) Transition(ctx context.Context, id uuid.UUID, issued solana.Hash, status purchase.Status) error {
	res := p.withContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ? AND blockhash = ?", id.String(), string(purchase.StatusPending), hashString(issued)).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to update purchase %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := p.notPending(ctx, id); err != nil {
			return err
		}
		return sale.NewError(sale.ErrPayloadStillValid, id.String(), nil)
	}
	return nil
}

func (p *sqlStorage) Reopen(ctx context.Context, id uuid.UUID, from purchase.Status) error {
	res := p.withContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", id.String(), string(from)).
		Update("status", string(purchase.StatusPending))
	if res.Error != nil {
		return fmt.Errorf("failed to reopen purchase %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		rec, err := p.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("purchase %s is %s, not %s", id, rec.Status, from)
	}
	return nil
}

func (p *sqlStorage) CountRebuild(ctx context.Context, id uuid.UUID, limit int) (int, error) {
	res := p.withContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ? AND rebuilds < ?", id.String(), string(purchase.StatusPending), limit).
		Update("rebuilds", gorm.Expr("rebuilds + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to count rebuild of %s: %w", id, res.Error)
	}

	rec, err := p.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if res.RowsAffected == 0 {
		if rec.Status != purchase.StatusPending {
			return rec.Rebuilds, sale.NewError(sale.ErrPurchaseNotPending, id.String(), nil)
		}
		return rec.Rebuilds, sale.NewError(sale.ErrRebuildLimit, id.String(), nil)
	}
	return rec.Rebuilds, nil
}

// notPending explains why a pending-guarded update touched no row. It
// returns nil when the record is still pending.
func (p *sqlStorage) notPending(ctx context.Context, id uuid.UUID) error {
	rec, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == purchase.StatusPending {
		return nil
	}
	return sale.NewError(sale.ErrPurchaseNotPending, id.String(), nil)
}

// hashString stores the zero hash as an empty column.
func hashString(h solana.Hash) string {
	if h.IsZero() {
		return ""
	}
	return h.String()
}

func toModel(rec purchase.Record) models.Purchase {
	return models.Purchase{
		BaseModel: models.BaseModel{
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		},
		ID:          rec.ID.String(),
		Buyer:       rec.Buyer.String(),
		TokenAmount: rec.Quote.TokenAmount,
		UnitPrice:   rec.Quote.UnitPrice,
		TotalCost:   rec.Quote.TotalCost,
		Currency:    rec.Quote.Currency.String(),
		Stage:       rec.Quote.Stage.String(),
		PricedAt:    rec.Quote.PricedAt,
		BaseUnits:   rec.BaseUnits,
		Status:      string(rec.Status),
		Rebuilds:    rec.Rebuilds,

		Blockhash:            hashString(rec.Issued.Blockhash),
		LastValidBlockHeight: rec.Issued.LastValidBlockHeight,
	}
}

func fromModel(row models.Purchase) (purchase.Record, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return purchase.Record{}, fmt.Errorf("corrupt purchase id %q: %w", row.ID, err)
	}
	buyer, err := solana.PublicKeyFromBase58(row.Buyer)
	if err != nil {
		return purchase.Record{}, fmt.Errorf("corrupt buyer of purchase %s: %w", row.ID, err)
	}
	currency, err := sale.ParseCurrency(row.Currency)
	if err != nil {
		return purchase.Record{}, fmt.Errorf("corrupt currency of purchase %s: %w", row.ID, err)
	}
	var issued solana.Hash
	if row.Blockhash != "" {
		if issued, err = solana.HashFromBase58(row.Blockhash); err != nil {
			return purchase.Record{}, fmt.Errorf("corrupt blockhash of purchase %s: %w", row.ID, err)
		}
	}
	var stage sale.Stage
	if err := stage.UnmarshalText([]byte(row.Stage)); err != nil {
		return purchase.Record{}, fmt.Errorf("corrupt stage of purchase %s: %w", row.ID, err)
	}
	return purchase.Record{
		ID:    id,
		Buyer: buyer,
		Quote: sale.Quote{
			TokenAmount: row.TokenAmount,
			UnitPrice:   row.UnitPrice,
			TotalCost:   row.TotalCost,
			Currency:    currency,
			Stage:       stage,
			PricedAt:    row.PricedAt.UTC(),
		},
		BaseUnits: row.BaseUnits,
		Status:    purchase.Status(row.Status),
		Rebuilds:  row.Rebuilds,
		Issued: blockchain.BlockRef{
			Blockhash:            issued,
			LastValidBlockHeight: row.LastValidBlockHeight,
		},
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}
