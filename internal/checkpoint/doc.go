// Package checkpoint decides when the run persists its state and provides
// the stores that persist it.
//
// The Manager evaluates the checkpoint rules once per timestep. It always
// takes part in the cross-rank out-of-time vote before applying the rules,
// so every rank reaches the collective on every timestep whatever its local
// decision. Stores write one manifest and one payload per rank under a
// directory (or object prefix) named after the timestep.
package checkpoint
