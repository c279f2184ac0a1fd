package dag

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/meshrun/internal/ctxlog"
	"github.com/vk/meshrun/internal/module"
)

// Build resolves every module input to exactly one producer and returns the
// resulting acyclic graph.
//
// Producer policy: two modules declaring the same output is an
// ErrConflictingProducer error. A module output that is also an external
// variable replaces the external source for every consumer except the
// producing module itself, which keeps reading the external value. An input
// with no producer is an ErrMissingDependency error.
func Build(ctx context.Context, descs []module.Descriptor, external []string) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building dependency graph.", "modules", len(descs), "external_variables", len(external))

	g := &Graph{
		descs:    slices.Clone(descs),
		index:    make(map[string]int, len(descs)),
		succ:     make([][]int, len(descs)),
		pred:     make([][]int, len(descs)),
		labels:   make(map[[2]int][]string),
		resolved: make([]map[string]int, len(descs)),
		external: make(map[string]bool, len(external)),
	}

	for i, d := range descs {
		if prev, ok := g.index[d.Name]; ok {
			return nil, fmt.Errorf("%w: %q declared at positions %d and %d", ErrDuplicateModule, d.Name, prev, i)
		}
		g.index[d.Name] = i
	}
	for _, v := range external {
		g.external[v] = true
	}

	producers := make(map[string]int)
	for i, d := range descs {
		for _, v := range d.Outputs {
			if p, ok := producers[v]; ok && p != i {
				return nil, fmt.Errorf("%w: variable %q is produced by both %q and %q",
					ErrConflictingProducer, v, descs[p].Name, d.Name)
			}
			if g.external[v] {
				logger.Warn("Module output shadows an external variable.", "module", d.Name, "variable", v)
			}
			producers[v] = i
		}
	}

	for i, d := range descs {
		g.resolved[i] = make(map[string]int, len(d.Inputs))
		for _, v := range d.Inputs {
			p, ok := producers[v]
			if ok && p == i {
				ok = false
			}
			switch {
			case ok:
				g.resolved[i][v] = p
				g.addEdge(p, i, v)
			case g.external[v]:
				g.resolved[i][v] = ExternalSource
			default:
				return nil, &DependencyError{Module: d.Name, Variable: v, Err: ErrMissingDependency}
			}
		}
	}

	for i := range g.succ {
		slices.Sort(g.succ[i])
		g.succ[i] = slices.Compact(g.succ[i])
		slices.Sort(g.pred[i])
		g.pred[i] = slices.Compact(g.pred[i])
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	logger.Debug("Dependency graph built.", "edges", len(g.labels))
	return g, nil
}

func (g *Graph) addEdge(from, to int, variable string) {
	key := [2]int{from, to}
	if !slices.Contains(g.labels[key], variable) {
		g.labels[key] = append(g.labels[key], variable)
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
}
