// Package storage persists orchestrator state in a BoltDB database so
// the passthrough state machine and certificate bookkeeping survive
// restarts. MemStore provides the same interface for tests.
package storage
