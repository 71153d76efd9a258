// Package core defines the domain model shared by every tdrf package.
//
// It holds the normalized Event consumed by the correlation engine, the Alert
// it produces, the Severity scale, and the AlertSink contract that external
// collaborators (log output, in-memory history, Redis, SQLite, webhooks)
// implement. The package also carries a small circuit breaker used by sinks
// that talk to remote systems.
//
// Nothing in core performs I/O.
package core
