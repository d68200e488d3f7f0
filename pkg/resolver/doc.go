/*
Package resolver turns the declared guest graph into a linear
execution order.

Edges come from clone lineage (a clone depends on its template) and
explicit dependency lists. The sort is a stable topological order:
ties break by declaration order in the source document, so the same
documents always yield the same order. A cycle is fatal and reported
with the offending id chain before any guest operation is attempted.

Two modes are exposed. Create processes the requested targets plus any
dependency that does not yet exist on the host; converge reprocesses
every node in the resolved order, the operator's explicit repair-all
escape hatch.
*/
package resolver
