package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client pool metrics (spec.md §7: "implementers should expose pool size")
	RPCPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corelink_rpcpool_size",
			Help: "Current number of cached client entries",
		},
	)

	RPCPoolConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corelink_rpcpool_connects_total",
			Help: "Total number of new client entries constructed by GetOrConnect",
		},
	)

	RPCPoolDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corelink_rpcpool_disconnects_total",
			Help: "Total number of entries removed via explicit Disconnect",
		},
	)

	RPCPoolEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corelink_rpcpool_evictions_total",
			Help: "Total number of entries removed by idle LRU eviction",
		},
	)

	RPCPoolProbeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corelink_rpcpool_probe_outcomes_total",
			Help: "Liveness-timeout callback outcomes by result",
		},
		[]string{"outcome"},
	)

	// Bounded executor metrics
	ExecutorInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corelink_executor_in_flight",
			Help: "Number of closures currently executing",
		},
	)

	ExecutorSubmitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corelink_executor_submit_wait_seconds",
			Help:    "Time Post() spent blocked waiting for a free slot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Membership (Raft-backed node registry) metrics
	MembershipRaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corelink_membership_raft_is_leader",
			Help: "Whether this membership node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	MembershipRaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corelink_membership_raft_peers_total",
			Help: "Total number of Raft peers in the membership ring",
		},
	)

	MembershipNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corelink_membership_nodes_total",
			Help: "Total number of registered nodes by status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		RPCPoolSize,
		RPCPoolConnects,
		RPCPoolDisconnects,
		RPCPoolEvictions,
		RPCPoolProbeOutcomes,
		ExecutorInFlight,
		ExecutorSubmitWait,
		MembershipRaftLeader,
		MembershipRaftPeers,
		MembershipNodesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
