// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/blockchain"
	"github.com/barkprotocol/token-sale-dapp/internal/blockchain/solbc/rpc"
)

// Client is a thin read-only adapter over a pool of Solana RPC nodes.
type Client struct {
	pool       *rpc.Pool
	commitment solanarpc.CommitmentType
	logger     *zap.Logger
}

// NewClient builds a client over urls. An empty commitment means confirmed.
func NewClient(urls []string, commitment solanarpc.CommitmentType, logger *zap.Logger) (*Client, error) {
	pool, err := rpc.NewPool(urls, logger)
	if err != nil {
		return nil, err
	}
	if commitment == "" {
		commitment = solanarpc.CommitmentConfirmed
	}
	return &Client{
		pool:       pool,
		commitment: commitment,
		logger:     logger.Named("solbc-client"),
	}, nil
}

// GetRecentBlockhash fetches the latest blockhash and its expiry height.
func (c *Client) GetRecentBlockhash(ctx context.Context) (blockchain.BlockRef, error) {
	var ref blockchain.BlockRef
	err := c.pool.Execute(ctx, "getLatestBlockhash", func(ctx context.Context, node *rpc.NodeClient) error {
		res, err := node.Client.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return rpc.ErrInvalidResponse
		}
		ref = blockchain.BlockRef{
			Blockhash:            res.Value.Blockhash,
			LastValidBlockHeight: res.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("GetRecentBlockhash error", errorFields(err)...)
		return blockchain.BlockRef{}, c.wrap(err)
	}
	return ref, nil
}

// AccountExists reports whether account is allocated. A missing account is
// not an error.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	exists := false
	err := c.pool.Execute(ctx, "getAccountInfo", func(ctx context.Context, node *rpc.NodeClient) error {
		res, err := node.Client.GetAccountInfoWithOpts(ctx, account, &solanarpc.GetAccountInfoOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
		})
		if errors.Is(err, solanarpc.ErrNotFound) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = res != nil && res.Value != nil
		return nil
	})
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			append(errorFields(err), zap.String("account", account.String()))...)
		return false, c.wrap(err)
	}
	return exists, nil
}

// IsBlockhashValid asks the cluster whether hash can still be used.
func (c *Client) IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	valid := false
	err := c.pool.Execute(ctx, "isBlockhashValid", func(ctx context.Context, node *rpc.NodeClient) error {
		res, err := node.Client.IsBlockhashValid(ctx, hash, c.commitment)
		if err != nil {
			return err
		}
		if res == nil {
			return rpc.ErrInvalidResponse
		}
		valid = res.Value
		return nil
	})
	if err != nil {
		c.logger.Debug("IsBlockhashValid error", errorFields(err)...)
		return false, c.wrap(err)
	}
	return valid, nil
}

// Ready fails with rpc.ErrNoActiveNodes while every node is out of rotation.
func (c *Client) Ready() error {
	if c.pool.ActiveNodes() == 0 {
		return rpc.ErrNoActiveNodes
	}
	return nil
}

// Nodes reports the state of every RPC node.
func (c *Client) Nodes() []rpc.NodeStats {
	return c.pool.Stats()
}

func (c *Client) wrap(err error) error {
	if rpc.IsBlockhashExpired(err) {
		return fmt.Errorf("%w: %w", blockchain.ErrBlockhashExpired, err)
	}
	return err
}

var _ blockchain.Client = (*Client)(nil)
