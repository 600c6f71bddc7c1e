/*
Package log provides corelink's structured logging, a thin wrapper
around zerolog.

A package-level Logger is usable immediately (stdout, timestamped) so
that packages imported before main() calls Init still produce useful
output; Init lets the owning binary reconfigure level, format, and
destination.

Context loggers (WithComponent, WithWorkerID, WithNodeID, WithPeer) tag
a child logger with the identifiers spec.md §7 asks for on connect,
disconnect, evict, and probe-outcome lines, without re-specifying them
at every call site.
*/
package log
