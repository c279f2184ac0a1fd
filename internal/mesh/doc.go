// Package mesh holds the per-rank partition of mesh element state that
// modules read and write. Each variable is a dense slice of float64 values,
// one per locally owned element.
package mesh
