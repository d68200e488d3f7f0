// Package certs reconciles the declared certificate manifest against a
// host-local signing CA. Entries are renewed when the on-disk
// certificate is absent, expires within the renewal window, or its SAN
// set no longer matches the declaration. Each successful renewal runs
// the entry's reload hook exactly once and records the new serial and
// expiry in the state store.
package certs
