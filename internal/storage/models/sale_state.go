// internal/storage/models/sale_state.go
package models

// SaleStateID is the primary key of the single sale_states row.
const SaleStateID uint = 1

// SaleState holds the sold-token counter.
type SaleState struct {
	BaseModel
	ID         uint   `gorm:"primarykey"`
	SoldAmount uint64 `gorm:"not null;default:0"`
}
