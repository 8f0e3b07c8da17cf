// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ParseAddress decodes a base58 wallet address. The server never holds keys,
// so addresses are the only wallet material it handles.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("wallet address is empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to decode wallet address: %w", err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("invalid wallet address length: expected %d bytes, got %d",
			solana.PublicKeyLength, len(raw))
	}
	pk := solana.PublicKeyFromBytes(raw)
	if pk.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("wallet address is the zero key")
	}
	return pk, nil
}

// ATACache memoizes associated token account derivations per owner and mint.
// Derivation is a pure function, so entries never go stale.
type ATACache struct {
	entries sync.Map // owner/mint -> solana.PublicKey
}

func NewATACache() *ATACache {
	return &ATACache{}
}

// GetATA returns the associated token account of owner for mint.
func (c *ATACache) GetATA(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	key := owner.String() + "/" + mint.String()
	if ata, ok := c.entries.Load(key); ok {
		return ata.(solana.PublicKey), nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive ATA for %s/%s: %w", owner, mint, err)
	}
	c.entries.Store(key, ata)
	return ata, nil
}

// Precompute derives the ATAs of owner for every mint up front.
func (c *ATACache) Precompute(owner solana.PublicKey, mints ...solana.PublicKey) error {
	for _, mint := range mints {
		if _, err := c.GetATA(owner, mint); err != nil {
			return err
		}
	}
	return nil
}

// CreateAssociatedTokenAccountIdempotentInstruction creates owner's ATA for
// mint, funded by payer. It succeeds when the account already exists.
func CreateAssociatedTokenAccountIdempotentInstruction(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: payer, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: owner, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.TokenProgramID, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // CreateIdempotent
	)
}
