// Package orchestrator drives a convergence run end to end: dependency
// resolution, guest lifecycle, feature application, then network
// artifact, certificate, and stack reconciliation. Runs are sequential
// on a single control thread and cancellable between targets; the
// resulting report is persisted for the status command.
package orchestrator
