// Package output decides at which timesteps each requested output is
// produced and hands matching records to a sink.
//
// Trigger evaluation (ShouldOutput) is a pure function of the run length,
// the current timestep, the simulated date and the output's policy. The
// Manager applies it to every descriptor once per timestep.
package output
