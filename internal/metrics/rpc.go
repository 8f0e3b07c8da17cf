// internal/metrics/rpc.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/barkprotocol/token-sale-dapp/internal/blockchain/solbc/rpc"
)

var (
	rpcUpDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rpc", "node_up"),
		"Whether the RPC node is in rotation",
		[]string{"node"}, nil)
	rpcLatencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rpc", "node_latency_seconds"),
		"Latency of the last call to the RPC node",
		[]string{"node"}, nil)
	rpcRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rpc", "node_requests_total"),
		"Calls to the RPC node by outcome",
		[]string{"node", "result"}, nil)
)

// rpcCollector reads node statistics from the pool at scrape time.
type rpcCollector struct {
	stats func() []rpc.NodeStats
}

func (c rpcCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rpcUpDesc
	ch <- rpcLatencyDesc
	ch <- rpcRequestsDesc
}

func (c rpcCollector) Collect(ch chan<- prometheus.Metric) {
	for _, node := range c.stats() {
		up := 0.0
		if node.Active {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(rpcUpDesc, prometheus.GaugeValue, up, node.URL)
		ch <- prometheus.MustNewConstMetric(rpcLatencyDesc, prometheus.GaugeValue, node.Latency.Seconds(), node.URL)
		ch <- prometheus.MustNewConstMetric(rpcRequestsDesc, prometheus.CounterValue, float64(node.Success), node.URL, "success")
		ch <- prometheus.MustNewConstMetric(rpcRequestsDesc, prometheus.CounterValue, float64(node.Errors), node.URL, "error")
	}
}

// WatchRPC exposes the RPC pool statistics returned by stats.
func (m *Metrics) WatchRPC(stats func() []rpc.NodeStats) {
	m.registry.MustRegister(rpcCollector{stats: stats})
}
