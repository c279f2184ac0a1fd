package dag

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// WriteDOT writes the graph in Graphviz format. Edges are labelled with the
// variables they carry; external inputs hang off a single "external" node.
func (g *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph modules {")
	fmt.Fprintln(bw, `  external [shape=box, style=dashed];`)
	for i, d := range g.descs {
		fmt.Fprintf(bw, "  m%d [label=%q];\n", i, d.Name)
	}

	external := make(map[int][]string)
	for i := range g.descs {
		for v, p := range g.resolved[i] {
			if p == ExternalSource {
				external[i] = append(external[i], v)
			}
		}
	}
	for i := range g.descs {
		if vars, ok := external[i]; ok {
			slices.Sort(vars)
			fmt.Fprintf(bw, "  external -> m%d [label=%q, style=dashed];\n", i, strings.Join(vars, ","))
		}
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(bw, "  m%d -> m%d [label=%q];\n", e.From, e.To, strings.Join(e.Variables, ","))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
