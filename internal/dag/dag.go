package dag

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vk/meshrun/internal/module"
)

// Len returns the number of modules in the graph.
func (g *Graph) Len() int { return len(g.descs) }

// Descriptor returns the descriptor of module i.
func (g *Graph) Descriptor(i int) module.Descriptor { return g.descs[i] }

// Name returns the name of module i.
func (g *Graph) Name(i int) string { return g.descs[i].Name }

// Index looks up a module by name.
func (g *Graph) Index(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Successors returns the modules that consume an output of module i.
func (g *Graph) Successors(i int) []int { return slices.Clone(g.succ[i]) }

// Predecessors returns the modules whose outputs module i consumes.
func (g *Graph) Predecessors(i int) []int { return slices.Clone(g.pred[i]) }

// Producer returns the index of the module (or ExternalSource) that
// satisfies the given input of module i.
func (g *Graph) Producer(i int, variable string) (int, bool) {
	p, ok := g.resolved[i][variable]
	return p, ok
}

// Resolved describes, for diagnostics, which producer satisfies each input of
// module i. External inputs are reported as "external".
func (g *Graph) Resolved(i int) map[string]string {
	out := make(map[string]string, len(g.resolved[i]))
	for v, p := range g.resolved[i] {
		if p == ExternalSource {
			out[v] = "external"
			continue
		}
		out[v] = g.descs[p].Name
	}
	return out
}

// Edges returns all module to module edges ordered by (From, To).
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, len(g.labels))
	for from, tos := range g.succ {
		for _, to := range tos {
			labels := slices.Clone(g.labels[[2]int{from, to}])
			slices.Sort(labels)
			edges = append(edges, Edge{From: from, To: to, Variables: labels})
		}
	}
	return edges
}

// detectCycles runs a depth-first search with three colours over the
// modules in declaration order. A back edge closes a cycle, which is
// reported with the full path of module names.
func (g *Graph) detectCycles() error {
	const (
		white = iota
		grey
		black
	)
	colour := make([]int, len(g.descs))
	var stack []int

	var visit func(n int) error
	visit = func(n int) error {
		colour[n] = grey
		stack = append(stack, n)
		for _, s := range g.succ[n] {
			switch colour[s] {
			case grey:
				start := slices.Index(stack, s)
				path := make([]string, 0, len(stack)-start+1)
				for _, i := range stack[start:] {
					path = append(path, g.descs[i].Name)
				}
				path = append(path, g.descs[s].Name)
				return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
			case white:
				if err := visit(s); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[n] = black
		return nil
	}

	for n := range g.descs {
		if colour[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
