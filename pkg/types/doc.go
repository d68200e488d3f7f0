/*
Package types defines the shared data model for the roost orchestrator.

The declarative documents loaded by pkg/config unmarshal into these types:
GuestSpec (one per guest), StackSpec (application stacks with named
environments), and CertificateEntry (the certificate manifest). Validation
tags are enforced at load time so that every other package can assume a
well-formed spec.

DerivedRecord and FirewallRule are the units the network reconciler merges
from multiple sources with deterministic precedence; PassthroughState names
the phases of the hardware passthrough state machine, persisted across
restarts by pkg/storage.
*/
package types
