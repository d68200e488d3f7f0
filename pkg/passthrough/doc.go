/*
Package passthrough exposes host accelerator devices inside guests.

The coordinator is a four-state machine per guest: Unconfigured,
Mutated, AwaitingDevice, Ready. Configuration mutation adds cgroup
device-allow rules and bind mounts for every assigned device index
plus the fixed control nodes; if no entry was actually new the guest
goes straight to Ready with no restart. Otherwise the guest is stopped
and started once (a configuration-only set does not take effect) and
the primary device node is polled inside the guest under a bounded
retry policy.

Every transition is persisted in the state store, so a run interrupted
between mutation and restart resumes with the restart instead of
mutating again, and a host reboot that breaks device visibility is
repaired with a single cycle rather than a full reconfiguration.

A wait timeout follows the configured policy: strict aborts the
pipeline; lenient logs a /dev listing for diagnostics, records a
warning, and lets the downstream driver installation produce the
definitive failure.
*/
package passthrough
