package output

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// Record is one emission of an output at one timestep by one rank.
type Record struct {
	Output   string
	Kind     Kind
	Timestep int
	Date     time.Time
	Rank     int
	// Offset is the global index of the first element in Values.
	Offset int
	// Values holds, per variable, one value per element starting at Offset.
	Values map[string][]float64
}

// Len returns the number of elements carried by the record.
func (r Record) Len() int {
	for _, v := range r.Values {
		return len(v)
	}
	return 0
}

// Variables returns the record's variable names, sorted.
func (r Record) Variables() []string {
	return slices.Sorted(maps.Keys(r.Values))
}

// Sink receives output records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// SinkError wraps a failure of a sink operation.
type SinkError struct {
	Op     string
	Output string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("output %q: %s: %v", e.Output, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// MemorySink keeps every record in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory sink is closed")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of the records written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Timesteps returns the timestep of every record written so far.
func (s *MemorySink) Timesteps() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.records))
	for i, r := range s.records {
		out[i] = r.Timestep
	}
	return out
}
