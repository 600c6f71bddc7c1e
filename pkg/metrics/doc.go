/*
Package metrics defines and registers corelink's Prometheus metrics:
client-pool size and churn, bounded-executor occupancy, and Raft-backed
membership state. All metrics are registered at package init and exposed
via Handler for scraping.

# Metrics Catalog

Client Pool (pkg/rpcpool):

	corelink_rpcpool_size                   Gauge    current cached client count
	corelink_rpcpool_connects_total         Counter  clients constructed by GetOrConnect
	corelink_rpcpool_disconnects_total      Counter  entries removed via explicit Disconnect
	corelink_rpcpool_evictions_total        Counter  entries removed by idle LRU eviction
	corelink_rpcpool_probe_outcomes_total{outcome}  Counter  liveness-callback outcomes

Bounded Executor (pkg/executor):

	corelink_executor_in_flight             Gauge    closures currently executing
	corelink_executor_submit_wait_seconds   Histogram  time Post() blocked waiting for a free slot

Membership (pkg/membership):

	corelink_membership_raft_is_leader      Gauge    1 if this node is Raft leader
	corelink_membership_raft_peers_total    Gauge    Raft peers in the membership ring
	corelink_membership_nodes_total{status} Gauge    registered nodes by status

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ExecutorSubmitWait)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
