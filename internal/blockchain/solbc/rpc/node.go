// internal/blockchain/solbc/rpc/node.go
package rpc

import (
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// NodeClient is one RPC endpoint with its health state.
type NodeClient struct {
	Client *solanarpc.Client
	URL    string

	mu      sync.RWMutex
	active  bool
	success uint64
	errors  uint64
	latency time.Duration
}

func NewNode(url string) *NodeClient {
	return &NodeClient{
		Client: solanarpc.New(url),
		URL:    url,
		active: true,
	}
}

func (n *NodeClient) SetActive(state bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = state
}

func (n *NodeClient) IsActive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.active
}

// UpdateMetrics records the outcome of one call. Latency is a running average.
func (n *NodeClient) UpdateMetrics(success bool, latency time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if success {
		n.success++
	} else {
		n.errors++
	}
	if n.latency == 0 {
		n.latency = latency
	} else {
		n.latency = (n.latency + latency) / 2
	}
}

// NodeStats is a point-in-time view of a node.
type NodeStats struct {
	URL     string        `json:"url"`
	Active  bool          `json:"active"`
	Success uint64        `json:"success"`
	Errors  uint64        `json:"errors"`
	Latency time.Duration `json:"latency"`
}

func (n *NodeClient) Stats() NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return NodeStats{
		URL:     n.URL,
		Active:  n.active,
		Success: n.success,
		Errors:  n.errors,
		Latency: n.latency,
	}
}
