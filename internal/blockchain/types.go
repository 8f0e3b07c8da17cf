// internal/blockchain/types.go
package blockchain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrBlockhashExpired is wrapped by clients when the cluster rejects a
// blockhash as unknown or past its last valid block height.
var ErrBlockhashExpired = errors.New("blockhash expired")

// BlockRef is the recent chain-state marker embedded in a transaction.
type BlockRef struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Client is the read-only chain surface the sale needs. Nothing here signs or
// broadcasts.
type Client interface {
	// GetRecentBlockhash returns the latest blockhash at the client's commitment.
	GetRecentBlockhash(ctx context.Context) (BlockRef, error)
	// AccountExists reports whether an account is allocated on chain.
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	// IsBlockhashValid reports whether the cluster still accepts hash.
	IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error)
}
