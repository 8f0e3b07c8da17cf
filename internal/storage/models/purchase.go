// internal/storage/models/purchase.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Purchase struct {
	BaseModel
	ID          string          `gorm:"primarykey;type:varchar(36)"`
	Buyer       string          `gorm:"index;not null;type:varchar(44)"`
	TokenAmount uint64          `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"not null;type:varchar(80)"`
	TotalCost   decimal.Decimal `gorm:"not null;type:varchar(80)"`
	Currency    string          `gorm:"not null;type:varchar(16)"`
	Stage       string          `gorm:"not null;type:varchar(16)"`
	PricedAt    time.Time       `gorm:"not null"`
	BaseUnits   uint64          `gorm:"not null"`
	Status      string          `gorm:"index;not null;type:varchar(20)"`
	Rebuilds    int             `gorm:"not null;default:0"`

	// Chain state of the latest payload handed out; empty until issued.
	Blockhash            string `gorm:"not null;default:'';type:varchar(44)"`
	LastValidBlockHeight uint64 `gorm:"not null;default:0"`
}
