// Package stacks pushes declared application stacks to a control-plane
// API over authenticated HTTPS. Endpoints, configuration objects, and
// stacks are matched by name before any create, making the sync safe to
// repeat: an unchanged declaration produces no writes.
package stacks
