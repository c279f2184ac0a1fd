package mesh

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownVariable is returned when a field is requested that was never declared.
var ErrUnknownVariable = errors.New("unknown variable")

// Mesh is the local partition of the mesh owned by one rank. The set of
// variables is fixed before the run loop starts. After that, modules only
// touch the contents of field slices, and the schedule guarantees no two
// concurrent modules write the same variable.
type Mesh struct {
	mu     sync.RWMutex
	global int
	rank   int
	ranks  int
	offset int
	size   int
	fields map[string][]float64
}

// New partitions globalElements into contiguous blocks across ranks and
// returns the block owned by rank. Leading ranks receive one extra element
// when the split is uneven.
func New(globalElements, rank, ranks int) (*Mesh, error) {
	if globalElements <= 0 {
		return nil, fmt.Errorf("mesh must have at least one element, got %d", globalElements)
	}
	if ranks <= 0 || rank < 0 || rank >= ranks {
		return nil, fmt.Errorf("invalid rank %d of %d", rank, ranks)
	}
	base, rem := globalElements/ranks, globalElements%ranks
	size := base
	if rank < rem {
		size++
	}
	return &Mesh{
		global: globalElements,
		rank:   rank,
		ranks:  ranks,
		offset: rank*base + min(rank, rem),
		size:   size,
		fields: make(map[string][]float64),
	}, nil
}

func (m *Mesh) Rank() int       { return m.rank }
func (m *Mesh) Ranks() int      { return m.ranks }
func (m *Mesh) Len() int        { return m.size }
func (m *Mesh) Offset() int     { return m.offset }
func (m *Mesh) GlobalSize() int { return m.global }

// Owns maps a global element index to its local index, reporting whether
// this rank owns the element.
func (m *Mesh) Owns(global int) (int, bool) {
	if global < m.offset || global >= m.offset+m.size {
		return 0, false
	}
	return global - m.offset, true
}

// Declare allocates zeroed fields for names not yet present.
func (m *Mesh) Declare(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		if _, ok := m.fields[name]; !ok {
			m.fields[name] = make([]float64, m.size)
		}
	}
}

// Field returns the backing slice of a declared variable. Writes through the
// slice are visible to every later reader.
func (m *Mesh) Field(name string) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return f, nil
}

// Fill sets every element of a declared variable to v.
func (m *Mesh) Fill(name string, v float64) error {
	f, err := m.Field(name)
	if err != nil {
		return err
	}
	for i := range f {
		f[i] = v
	}
	return nil
}

// Variables lists declared variable names in sorted order.
func (m *Mesh) Variables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type snapshot struct {
	Global int                  `msgpack:"global"`
	Rank   int                  `msgpack:"rank"`
	Ranks  int                  `msgpack:"ranks"`
	Fields map[string][]float64 `msgpack:"fields"`
}

// Snapshot serializes the partition state with msgpack.
func (m *Mesh) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, err := msgpack.Marshal(&snapshot{
		Global: m.global,
		Rank:   m.rank,
		Ranks:  m.ranks,
		Fields: m.fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode mesh snapshot: %w", err)
	}
	return data, nil
}

// Restore loads field values from a snapshot produced by the same rank of an
// identically partitioned mesh. Variables absent from the snapshot keep their
// current values.
func (m *Mesh) Restore(data []byte) error {
	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode mesh snapshot: %w", err)
	}
	if s.Global != m.global || s.Rank != m.rank || s.Ranks != m.ranks {
		return fmt.Errorf("snapshot partition (%d elements, rank %d of %d) does not match mesh (%d elements, rank %d of %d)",
			s.Global, s.Rank, s.Ranks, m.global, m.rank, m.ranks)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, values := range s.Fields {
		if len(values) != m.size {
			return fmt.Errorf("snapshot field %q has %d values, want %d", name, len(values), m.size)
		}
		m.fields[name] = values
	}
	return nil
}
