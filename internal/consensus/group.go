package consensus

import (
	"context"
	"fmt"
	"sync"
)

// Group is an in-process set of ranks sharing a reusable barrier. It lets
// several simulated ranks run as goroutines of one process.
type Group struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	arrived int
	round   int
	acc     bool
	result  bool
	gen     uint64
	broken  error
}

// NewGroup creates a group of size ranks.
func NewGroup(size int) *Group {
	g := &Group{size: size}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Member returns the Reducer used by rank.
func (g *Group) Member(rank int) Reducer {
	return &member{group: g, rank: rank}
}

func (g *Group) reduce(ctx context.Context, round int, local bool) (bool, error) {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.broken != nil {
		return false, g.broken
	}
	if g.arrived == 0 {
		g.round = round
	} else if g.round != round {
		g.broken = fmt.Errorf("consensus rounds diverged: %d and %d", g.round, round)
		g.cond.Broadcast()
		return false, g.broken
	}

	gen := g.gen
	g.acc = g.acc || local
	g.arrived++
	if g.arrived == g.size {
		g.result = g.acc
		g.acc = false
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
		return g.result, nil
	}

	for gen == g.gen {
		if g.broken != nil {
			return false, g.broken
		}
		if err := ctx.Err(); err != nil {
			g.broken = fmt.Errorf("%w: round %d abandoned: %v", ErrTimeout, round, err)
			g.cond.Broadcast()
			return false, g.broken
		}
		g.cond.Wait()
	}
	return g.result, nil
}

type member struct {
	group *Group
	rank  int
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.group.size }

func (m *member) AnyTrue(ctx context.Context, round int, local bool) (bool, error) {
	return m.group.reduce(ctx, round, local)
}

func (m *member) Close() error { return nil }
