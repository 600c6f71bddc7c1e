/*
Package types defines the identifiers and narrow interfaces shared by the
rest of corelink: WorkerID and NodeID (opaque, fixed-width, comparable),
PeerAddress, the Client capability the pool depends on, and the
ClientFactory a caller injects to construct one.

Nothing here dials a network or holds mutable state; it exists so that
pkg/rpcpool, pkg/rpcclient, pkg/membership, and pkg/rayletprobe can share
a vocabulary without importing each other.
*/
package types
