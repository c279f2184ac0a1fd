package dag

import (
	"errors"
	"fmt"

	"github.com/vk/meshrun/internal/module"
)

// ExternalSource is the producer index recorded for inputs satisfied by
// forcing, parameters or initial conditions.
const ExternalSource = -1

var (
	ErrMissingDependency   = errors.New("missing dependency")
	ErrConflictingProducer = errors.New("conflicting producer")
	ErrDuplicateModule     = errors.New("duplicate module name")
	ErrCycle               = errors.New("dependency cycle")
)

// DependencyError reports a module input that could not be resolved.
type DependencyError struct {
	Module   string
	Variable string
	Err      error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("module %q requires variable %q: %v", e.Module, e.Variable, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Edge is a producer to consumer relation labelled with the variables that
// flow along it.
type Edge struct {
	From      int
	To        int
	Variables []string
}

// Graph is the immutable dependency graph over a fixed list of modules.
type Graph struct {
	descs []module.Descriptor
	index map[string]int
	// succ and pred hold sorted, de-duplicated neighbour indices.
	succ [][]int
	pred [][]int
	// labels maps a (from, to) pair to the variables it carries.
	labels map[[2]int][]string
	// resolved[i] maps each input of module i to its producer index.
	resolved []map[string]int
	external map[string]bool
}
