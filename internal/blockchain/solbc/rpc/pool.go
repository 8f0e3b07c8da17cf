// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 10 * time.Second
	RetryDelay     = 250 * time.Millisecond
)

// Pool rotates calls across RPC nodes and fails over on transport errors.
type Pool struct {
	nodes   []*NodeClient
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	next int
}

func NewPool(urls []string, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}
	nodes := make([]*NodeClient, 0, len(urls))
	for _, url := range urls {
		nodes = append(nodes, NewNode(url))
	}
	return &Pool{
		nodes:   nodes,
		timeout: DefaultTimeout,
		logger:  logger.Named("rpc-pool"),
	}, nil
}

// NextNode returns the next active node in round-robin order. When every node
// is down they are all reactivated so the pool can recover.
func (p *Pool) NextNode() *NodeClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.nodes); i++ {
		node := p.nodes[(p.next+i)%len(p.nodes)]
		if node.IsActive() {
			p.next = (p.next + i + 1) % len(p.nodes)
			return node
		}
	}

	p.logger.Warn("All RPC nodes inactive, reactivating")
	for _, node := range p.nodes {
		node.SetActive(true)
	}
	node := p.nodes[p.next]
	p.next = (p.next + 1) % len(p.nodes)
	return node
}

// Execute runs operation against successive nodes. Retryable failures mark the
// node inactive and move on; anything else is returned immediately. When every
// node failed the call, the error wraps ErrNoActiveNodes.
func (p *Pool) Execute(ctx context.Context, method string, operation func(context.Context, *NodeClient) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = RetryDelay
	policy.MaxInterval = 2 * time.Second

	failed := make(map[string]struct{}, len(p.nodes))
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		node := p.NextNode()

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		err := operation(callCtx, node)
		node.UpdateMetrics(err == nil, time.Since(start))
		if err == nil {
			return struct{}{}, nil
		}

		wrapped := NewError(err, node.URL, method)
		if IsRetryableError(wrapped) {
			node.SetActive(false)
			failed[node.URL] = struct{}{}
			p.logger.Debug("Retryable RPC error, failing over",
				zap.String("method", method),
				zap.String("node", node.URL),
				zap.Error(err))
			return struct{}{}, wrapped
		}
		return struct{}{}, backoff.Permanent(wrapped)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(len(p.nodes)+1)),
	)
	if err != nil && IsRetryableError(err) && len(failed) == len(p.nodes) {
		p.logger.Warn("Every RPC node failed", zap.String("method", method), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNoActiveNodes, err)
	}
	return err
}

// Stats lists the state of every node.
func (p *Pool) Stats() []NodeStats {
	stats := make([]NodeStats, 0, len(p.nodes))
	for _, node := range p.nodes {
		stats = append(stats, node.Stats())
	}
	return stats
}

// ActiveNodes counts the nodes currently in rotation.
func (p *Pool) ActiveNodes() int {
	n := 0
	for _, node := range p.nodes {
		if node.IsActive() {
			n++
		}
	}
	return n
}
