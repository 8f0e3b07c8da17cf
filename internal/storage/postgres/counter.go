// internal/storage/postgres/counter.go
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/storage/models"
)

func (p *sqlStorage) Sold(ctx context.Context) (uint64, error) {
	return p.sold(p.withContext(ctx))
}

func (p *sqlStorage) sold(db *gorm.DB) (uint64, error) {
	var state models.SaleState
	if err := db.First(&state, models.SaleStateID).Error; err != nil {
		return 0, fmt.Errorf("failed to read sale state: %w", err)
	}
	return state.SoldAmount, nil
}

// Reserve is a single conditional UPDATE; the new total is read back inside
// the same transaction while the row is still locked.
func (p *sqlStorage) Reserve(ctx context.Context, amount, limit uint64) (uint64, error) {
	if amount > limit {
		return 0, sale.ErrInsufficientSupply
	}
	var total uint64
	err := p.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SaleState{}).
			Where("id = ? AND sold_amount <= ?", models.SaleStateID, limit-amount).
			Update("sold_amount", gorm.Expr("sold_amount + ?", amount))
		if res.Error != nil {
			return fmt.Errorf("failed to reserve allocation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return sale.ErrInsufficientSupply
		}
		var err error
		total, err = p.sold(tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (p *sqlStorage) Release(ctx context.Context, amount uint64) (uint64, error) {
	var total uint64
	err := p.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SaleState{}).
			Where("id = ? AND sold_amount >= ?", models.SaleStateID, amount).
			Update("sold_amount", gorm.Expr("sold_amount - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("failed to release allocation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			current, err := p.sold(tx)
			if err != nil {
				return err
			}
			return fmt.Errorf("release %d exceeds sold amount %d", amount, current)
		}
		var err error
		total, err = p.sold(tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
