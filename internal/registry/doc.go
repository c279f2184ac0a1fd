// Package registry maps module type names to factories and turns the module
// blocks of a run file into module.Module values.
//
// Each built-in module package exposes a type implementing Module whose
// Register method adds its factory. A factory declares the Go struct its
// block body decodes into and builds the module from that struct.
package registry
