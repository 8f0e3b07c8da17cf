// internal/storage/models/base.go
package models

import "time"

// BaseModel carries the timestamps every table shares. Tables pick their own
// primary keys.
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
