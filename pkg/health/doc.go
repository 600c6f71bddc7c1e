/*
Package health provides the Checker interface (Check(ctx) Result,
Type() CheckType) and a TCP implementation used to back the process-level
health endpoint cmd/corelinkd serves: periodically dialing this node's
own peer-facing listener and feeding the result, debounced through
Status/Config, into pkg/metrics' component registry.

Example:

	import "github.com/cuemby/corelink/pkg/health"

	checker := health.NewPeerChecker(selfAddr)
	result := checker.Check(ctx)
*/
package health
