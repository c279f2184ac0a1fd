// Package scheduler turns an acyclic dependency graph into an ordered list
// of chunks that the executor runs one after another.
//
// # How It Works
//
// The scheduler repeatedly extracts the current frontier of the graph:
//  1. Every module whose dependencies are all scheduled forms the next chunk.
//  2. The chunk is sorted by declaration order.
//  3. Removing the chunk from the graph exposes the following frontier.
//
// Each module therefore lands in the earliest chunk whose predecessors all
// sit in strictly earlier chunks. Modules in one chunk share no edge and may
// run concurrently. Concatenating the chunks yields a topological order,
// and the result is identical for identical input, which keeps restarts from
// a checkpoint reproducible.
//
// # Relationship with Other Components
//
//   - dag: provides the graph; cycles are rejected there before scheduling.
//   - executor: runs one chunk at a time with a barrier between chunks.
package scheduler
