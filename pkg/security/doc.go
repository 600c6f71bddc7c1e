/*
Package security provides the mTLS plumbing pkg/rpcclient dials
through: a Certificate Authority for issuing worker/raylet/node
certificates, and file-based certificate storage under the user's home
directory (GetCertDir).

# Architecture

	┌─────────────────────────────────────────────────┐
	│                Security Architecture             │
	└─────┬─────────────────────────┬──────────────────┘
	      │                         │
	      ▼                         ▼
	┌─────────────┐         ┌──────────────┐
	│      CA      │         │ Certificate  │
	│ (Root + Sub) │         │  Management  │
	└──────┬───────┘         └──────┬───────┘
	       │                        │
	       ▼                        ▼
	RSA 4096-bit root        90-day node certs
	10-year validity         rotation threshold

# Cluster encryption key

The CA's root private key is encrypted at rest under a 32-byte key
derived from the cluster ID:

	clusterKey = SHA-256(clusterID)

SetClusterEncryptionKey installs this key once at startup, before the
first LoadFromStore or SaveToStore call.

# Certificate issuance

IssueNodeCertificate signs a leaf certificate for a worker or raylet
process, valid for 90 days (nodeCertValidity); IssueClientCertificate
signs one for a pool-side dialing client. Both chain to the CA's root,
which a peer verifies via VerifyCertificate or ValidateCertChain.
*/
package security
