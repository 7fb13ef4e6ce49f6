// Package metrics exposes Prometheus counters and gauges for a validator
// node's request pipeline, peer directory, and consensus coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric a node publishes and the registerer they're
// attached to, so tests can construct an isolated Registry instead of
// colliding on the global default registry.
type Registry struct {
	registry *prometheus.Registry

	BlocksCommitted    prometheus.Counter
	RequestsRejected   prometheus.Counter
	VotesCast          prometheus.Counter
	LivePeers          prometheus.Gauge
	ChainHeight        prometheus.Gauge
}

// New creates a Registry with all metrics registered under the
// "validator_" namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_blocks_committed_total",
			Help: "Total blocks appended to this node's chain, including reward blocks.",
		}),
		RequestsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_requests_rejected_total",
			Help: "Total requests rejected, either locally or by peer majority.",
		}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_votes_cast_total",
			Help: "Total votes this node cast in response to peer VoteRequests.",
		}),
		LivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "validator_live_peers",
			Help: "Current count of live peers in the directory.",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "validator_chain_height",
			Help: "Current committed chain height, genesis included.",
		}),
	}
	reg.MustRegister(r.BlocksCommitted, r.RequestsRejected, r.VotesCast, r.LivePeers, r.ChainHeight)
	return r
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
