/*
Package netrec reconciles host-level network artifacts from the
declarative documents.

Name records come from four sources, concatenated lowest to highest
priority: static well-known records, each guest's own hostname and
address, service hostnames resolving to the shared ingress, and
explicit direct overrides. Merge keeps the last occurrence per key, so
the winner is always the highest-priority source and a specific agent
override can never be shadowed by a generic ingress rule. Firewall
rules aggregate the same way, global rules before per-guest rules.

Artifacts (resolver host records, packet-filter rules, reverse-proxy
routes) are regenerated wholesale on every pass, syntax-validated
before anything touches disk, written to a temp file and renamed into
place, then the consuming service is reloaded. A reload failure is
fatal and the new artifact is kept; it is valid by construction,
whereas the previous one reflects declarations that no longer exist.
*/
package netrec
