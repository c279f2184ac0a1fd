// Package dag builds the producer/consumer dependency graph over configured
// modules. Vertices are modules indexed by declaration order; an edge runs
// from the module producing a variable to every module consuming it.
// Variables supplied by forcing, parameters or initial conditions resolve to
// the ExternalSource sentinel and add no edge.
//
// The graph is built once, checked for cycles, and read-only afterward.
package dag
