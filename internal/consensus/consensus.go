// Package consensus provides the logical-OR all-reduce used to agree on a
// checkpoint decision across ranks. Every rank must call AnyTrue once per
// round, in the same round order; a rank that skips a round blocks the
// others until their timeout.
package consensus

import (
	"context"
	"errors"
)

// ErrTimeout is returned when not every rank reached a round in time.
var ErrTimeout = errors.New("consensus round timed out")

// Reducer combines one boolean per rank into their logical OR.
type Reducer interface {
	// Rank returns the index of the calling process.
	Rank() int
	// Size returns the number of cooperating processes.
	Size() int
	// AnyTrue blocks until every rank contributed to round and reports
	// whether any of them passed true.
	AnyTrue(ctx context.Context, round int, local bool) (bool, error)
	Close() error
}

// Local is the Reducer of a single-process run.
type Local struct{}

func (Local) Rank() int { return 0 }
func (Local) Size() int { return 1 }

func (Local) AnyTrue(_ context.Context, _ int, local bool) (bool, error) {
	return local, nil
}

func (Local) Close() error { return nil }
