/*
Package config loads the declarative documents and the orchestrator's
own settings.

Three JSON documents drive convergence: guests.json (guest specs plus
the shared ingress address, static name records, and global firewall
rules), stacks.json (application stacks), and certificates.json (the
certificate manifest). Each is schema-validated with struct tags at
load time and indexed behind the read-only Store interface; a schema
violation or dangling cross-reference is a fatal configuration error
raised before any side effect. Unknown document fields are rejected.

Settings (paths, hypervisor binaries, the device-wait policy, artifact
locations, control-plane credentials) come from a separate YAML file
read through viper, with defaults for every key.
*/
package config
