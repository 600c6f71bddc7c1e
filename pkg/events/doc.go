// Package events provides an in-memory broker for cluster node-change
// notifications: joined, alive, dead, left. pkg/membership publishes to
// it; pkg/rpcpool's liveness callback is only wired when a subscription
// is active (spec.md §7 MembershipSubscriptionMissing).
package events
