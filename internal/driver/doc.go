// Package driver owns the timestep loop of a run.
//
// # How It Works
//
// A Driver moves through a fixed sequence of states:
//
//	Uninitialized -> Configured -> Running <-> Checkpointing -> Terminating -> Terminated
//
// Configure checks the schedule, builds the simulation clock from the
// forcing range and, when asked to, restores the mesh from a checkpoint so
// the clock resumes right after the saved timestep.
//
// Every Running iteration advances the clock, applies forcing, runs the
// schedule chunk by chunk with a barrier in between, emits the outputs whose
// triggers match and asks the checkpoint manager for a decision. That
// decision is requested on every timestep by every rank, since it hides a
// collective vote.
//
// A run ends in one of four outcomes:
//   - Completed: the clock reached its last timestep. The completion marker
//     is written to the output directory.
//   - OutOfTime: some rank ran short of wall-clock time. All ranks wrote a
//     checkpoint and stopped after the same timestep.
//   - Aborted: the context was cancelled.
//   - Failed: a module, an output or a checkpoint write returned an error.
//
// Aborted and Failed runs skip the rest of the current timestep and still
// try to write a checkpoint for the last completed timestep before stopping.
// Only Completed runs are clean; every other outcome removes a stale marker.
package driver
