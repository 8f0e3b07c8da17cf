// internal/transaction/payload.go
package transaction

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/barkprotocol/token-sale-dapp/internal/blockchain"
)

// Payload is an unsigned transaction ready for an external signer. It embeds
// a recent blockhash and must not be reused across attempts.
type Payload struct {
	// Transaction is the base64 wire encoding with empty signature slots.
	Transaction          string `json:"transaction"`
	RecentBlockhash      string `json:"recentBlockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	FeePayer             string `json:"feePayer"`
	Instructions         int    `json:"instructions"`
	CreatesAccount       bool   `json:"createsAccount"`
}

// encode serializes tx without signatures. The wire format needs one slot per
// required signer, so the slots are zero-filled.
func encode(tx *solana.Transaction, ref blockchain.BlockRef, createsAccount bool) (*Payload, error) {
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return &Payload{
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		RecentBlockhash:      ref.Blockhash.String(),
		LastValidBlockHeight: ref.LastValidBlockHeight,
		FeePayer:             tx.Message.AccountKeys[0].String(),
		Instructions:         len(tx.Message.Instructions),
		CreatesAccount:       createsAccount,
	}, nil
}

// Decode parses a payload back into a transaction.
func (p *Payload) Decode() (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Transaction)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// BlockRef returns the chain state the payload was built against.
func (p *Payload) BlockRef() (blockchain.BlockRef, error) {
	hash, err := solana.HashFromBase58(p.RecentBlockhash)
	if err != nil {
		return blockchain.BlockRef{}, fmt.Errorf("decode blockhash: %w", err)
	}
	return blockchain.BlockRef{Blockhash: hash, LastValidBlockHeight: p.LastValidBlockHeight}, nil
}
