package scheduler

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/dag"
)

// Schedule is an ordered sequence of chunks of module indices.
type Schedule struct {
	Chunks    [][]int
	makeOrder []int
}

// New computes the chunk partition of g by frontier extraction.
func New(ctx context.Context, g *dag.Graph) (*Schedule, error) {
	logger := ctxlog.FromContext(ctx)

	n := g.Len()
	indegree := make([]int, n)
	var frontier []int
	for i := range n {
		indegree[i] = len(g.Predecessors(i))
		if indegree[i] == 0 {
			frontier = append(frontier, i)
		}
	}

	s := &Schedule{makeOrder: make([]int, n)}
	scheduled := 0
	for len(frontier) > 0 {
		chunk := frontier
		frontier = nil
		for _, m := range chunk {
			s.makeOrder[m] = scheduled
			scheduled++
			for _, succ := range g.Successors(m) {
				indegree[succ]--
				if indegree[succ] == 0 {
					frontier = append(frontier, succ)
				}
			}
		}
		slices.Sort(frontier)
		s.Chunks = append(s.Chunks, chunk)
	}

	if scheduled != n {
		return nil, fmt.Errorf("%w: %d of %d modules could not be scheduled", dag.ErrCycle, n-scheduled, n)
	}

	for i, chunk := range s.Chunks {
		names := make([]string, len(chunk))
		for j, m := range chunk {
			names[j] = g.Name(m)
		}
		logger.Debug("Scheduled chunk.", "chunk", i, "modules", names)
	}
	logger.Info("Schedule computed.", "modules", n, "chunks", len(s.Chunks))
	return s, nil
}

// Order returns the topological order obtained by concatenating the chunks.
func (s *Schedule) Order() []int {
	order := make([]int, 0, len(s.makeOrder))
	for _, chunk := range s.Chunks {
		order = append(order, chunk...)
	}
	return order
}

// MakeOrder returns the position of module i in Order.
func (s *Schedule) MakeOrder(i int) int {
	return s.makeOrder[i]
}

// ChunkOf returns the chunk index module i was placed in.
func (s *Schedule) ChunkOf(i int) int {
	for c, chunk := range s.Chunks {
		if slices.Contains(chunk, i) {
			return c
		}
	}
	return -1
}

// Len returns the number of chunks.
func (s *Schedule) Len() int {
	return len(s.Chunks)
}
