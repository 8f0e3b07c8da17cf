// internal/transaction/builder.go
package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/blockchain"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/wallet"
)

// Options configures a Builder.
type Options struct {
	Fees FeeOptions
	// VerifyBlockhash asks the cluster to confirm every fetched blockhash.
	VerifyBlockhash bool
}

// Builder assembles unsigned settlement transactions. It is safe for
// concurrent use.
type Builder struct {
	chain  blockchain.Client
	cfg    sale.Config
	opts   Options
	atas   *wallet.ATACache
	logger *zap.Logger

	// Token accounts observed on chain. Accounts only enter this set after a
	// lookup found them, never because a payload would create them.
	existing sync.Map
}

func NewBuilder(chain blockchain.Client, cfg sale.Config, opts Options, logger *zap.Logger) *Builder {
	b := &Builder{
		chain:  chain,
		cfg:    cfg,
		opts:   opts,
		atas:   wallet.NewATACache(),
		logger: logger.Named("tx-builder"),
	}
	if err := b.atas.Precompute(cfg.ReceivingAddress, cfg.StablecoinMint, cfg.TokenMint); err != nil {
		b.logger.Warn("Failed to precompute treasury token accounts", zap.Error(err))
	}
	return b
}

// transferPlan produces the instructions moving amount base units from payer
// to recipient for one asset kind.
type transferPlan interface {
	instructions(ctx context.Context, b *Builder, payer, recipient solana.PublicKey, amount uint64) (ixs []solana.Instruction, createsAccount bool, err error)
}

// nativePlan is a plain system transfer in lamports.
type nativePlan struct{}

func (nativePlan) instructions(_ context.Context, _ *Builder, payer, recipient solana.PublicKey, amount uint64) ([]solana.Instruction, bool, error) {
	return []solana.Instruction{
		system.NewTransferInstruction(amount, payer, recipient).Build(),
	}, false, nil
}

// tokenPlan is an SPL token transfer between associated token accounts,
// creating the recipient's account when it does not exist yet.
type tokenPlan struct {
	mint solana.PublicKey
}

func (p tokenPlan) instructions(ctx context.Context, b *Builder, payer, recipient solana.PublicKey, amount uint64) ([]solana.Instruction, bool, error) {
	source, err := b.atas.GetATA(payer, p.mint)
	if err != nil {
		return nil, false, err
	}
	destination, err := b.atas.GetATA(recipient, p.mint)
	if err != nil {
		return nil, false, err
	}

	exists, err := b.accountExists(ctx, destination)
	if err != nil {
		return nil, false, fmt.Errorf("look up recipient token account %s: %w", destination, err)
	}

	var ixs []solana.Instruction
	if !exists {
		ixs = append(ixs, wallet.CreateAssociatedTokenAccountIdempotentInstruction(payer, recipient, p.mint, destination))
	}
	ixs = append(ixs, token.NewTransferInstruction(amount, source, destination, payer, nil).Build())
	return ixs, !exists, nil
}

// planFor selects the transfer plan of a settlement currency.
func (b *Builder) planFor(currency sale.Currency) (transferPlan, error) {
	switch currency {
	case sale.Native:
		return nativePlan{}, nil
	case sale.Stablecoin:
		return tokenPlan{mint: b.cfg.StablecoinMint}, nil
	default:
		return nil, fmt.Errorf("unsupported currency %s", currency)
	}
}

// Build assembles the payment of amount base units of currency from payer to
// recipient.
func (b *Builder) Build(ctx context.Context, payer, recipient solana.PublicKey, amount uint64, currency sale.Currency) (*Payload, error) {
	if amount == 0 {
		return nil, sale.NewError(sale.ErrInvalidAmount, "build", nil)
	}
	plan, err := b.planFor(currency)
	if err != nil {
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, "build", err)
	}
	return b.assemble(ctx, "build", plan, payer, recipient, amount)
}

// BuildTokenDelivery assembles the transfer of tokens whole sale tokens from
// the treasury to buyer, for the treasury's own signer.
func (b *Builder) BuildTokenDelivery(ctx context.Context, treasury, buyer solana.PublicKey, tokens uint64) (*Payload, error) {
	if tokens == 0 {
		return nil, sale.NewError(sale.ErrInvalidAmount, "delivery", nil)
	}
	if b.cfg.TokenMint.IsZero() {
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, "delivery", errors.New("token mint not configured"))
	}
	units, err := scale(tokens, b.cfg.TokenDecimals)
	if err != nil {
		return nil, sale.NewError(sale.ErrInvalidAmount, "delivery", err)
	}
	return b.assemble(ctx, "delivery", tokenPlan{mint: b.cfg.TokenMint}, treasury, buyer, units)
}

func (b *Builder) assemble(ctx context.Context, op string, plan transferPlan, payer, recipient solana.PublicKey, amount uint64) (*Payload, error) {
	if payer.IsZero() || recipient.IsZero() {
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, op, errors.New("payer and recipient are required"))
	}

	transfer, createsAccount, err := plan.instructions(ctx, b, payer, recipient, amount)
	if err != nil {
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, op, err)
	}
	instructions := append(b.opts.Fees.priorityInstructions(), transfer...)

	ref, err := b.chain.GetRecentBlockhash(ctx)
	if err != nil {
		if errors.Is(err, blockchain.ErrBlockhashExpired) {
			return nil, sale.NewError(sale.ErrChainStateExpired, op, err)
		}
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, op, fmt.Errorf("get recent blockhash: %w", err))
	}
	if b.opts.VerifyBlockhash {
		valid, err := b.chain.IsBlockhashValid(ctx, ref.Blockhash)
		if err != nil && !errors.Is(err, blockchain.ErrBlockhashExpired) {
			return nil, sale.NewError(sale.ErrTransferAssemblyFailed, op, fmt.Errorf("verify blockhash: %w", err))
		}
		if !valid {
			return nil, sale.NewError(sale.ErrChainStateExpired, op, fmt.Errorf("blockhash %s rejected", ref.Blockhash))
		}
	}

	tx, err := solana.NewTransaction(instructions, ref.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, op, fmt.Errorf("create transaction: %w", err))
	}
	payload, err := encode(tx, ref, createsAccount)
	if err != nil {
		return nil, sale.NewError(sale.ErrTransferAssemblyFailed, op, err)
	}

	b.logger.Debug("Transaction assembled",
		zap.String("op", op),
		zap.String("payer", payer.String()),
		zap.String("recipient", recipient.String()),
		zap.Uint64("amount", amount),
		zap.Int("instructions", payload.Instructions),
		zap.Bool("creates_account", createsAccount),
		zap.String("blockhash", payload.RecentBlockhash))
	return payload, nil
}

// accountExists consults the cache of observed accounts before the chain.
func (b *Builder) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	if _, ok := b.existing.Load(account); ok {
		return true, nil
	}
	exists, err := b.chain.AccountExists(ctx, account)
	if err != nil {
		return false, err
	}
	if exists {
		b.existing.Store(account, struct{}{})
	}
	return exists, nil
}

// scale converts whole tokens to base units.
func scale(tokens uint64, decimals uint8) (uint64, error) {
	units := new(big.Int).Mul(
		new(big.Int).SetUint64(tokens),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	if !units.IsUint64() {
		return 0, fmt.Errorf("%d tokens with %d decimals overflows base units", tokens, decimals)
	}
	return units.Uint64(), nil
}
