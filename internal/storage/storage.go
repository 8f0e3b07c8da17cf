// internal/storage/storage.go
package storage

import (
	"github.com/barkprotocol/token-sale-dapp/internal/purchase"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
)

// Storage is the durable home of the sale counter and the purchase records.
type Storage interface {
	sale.CounterStore
	purchase.Store

	// RunMigrations creates the tables and seeds the counter row.
	RunMigrations() error
	Close() error
}
