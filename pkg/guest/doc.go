/*
Package guest wraps the hypervisor's guest-management tooling behind a
narrow contract.

Manager is the external collaborator boundary: exists/running probes,
create, start, stop, delete, config-entry mutation, in-guest exec, and
file push. CLIManager implements it over the hypervisor's command-line
tools (one binary for containers, one for VMs), recording the last
command attempted so fatal errors can show the operator exactly what
failed. MemManager is the in-memory stand-in for tests.

Lifecycle layers idempotency on top: every operation probes current
state first, so starting a running guest or deleting an absent one is
a logged no-op rather than an error. Create is the exception; a failed
create is always fatal.
*/
package guest
