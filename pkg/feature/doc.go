/*
Package feature applies a guest's declared feature list.

A feature module is the unit of guest configuration: a side-effect-free
idempotency probe plus an apply procedure that is safe to re-run. The
applier walks the list in declared order, skipping features whose probe
already reports satisfied, aborting on the first fatal failure, and
downgrading failures of best-effort modules to accumulated warnings.

Feature bodies themselves are external collaborators. ExecModule covers
the common case of a host-side setup script pushed into the guest and
executed there; anything else implements Module directly (the hardware
passthrough coordinator does, in pkg/passthrough).
*/
package feature
