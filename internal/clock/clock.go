// Package clock implements the simulation clock driven by the execution loop.
package clock

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a clock cannot be built from the given
// start, end and step.
var ErrInvalidRange = errors.New("invalid simulation time range")

// Tick is the clock state handed to modules, outputs and the checkpoint
// policy for a single timestep.
type Tick struct {
	Index int       // global timestep index, starting at 0
	Date  time.Time // simulated timestamp of this timestep
	Max   int       // index of the last timestep of the run
}

// Last reports whether this is the final timestep of the run.
func (t Tick) Last() bool {
	return t.Index == t.Max
}

// Clock tracks simulated time between a start and end timestamp at a fixed
// step. Only the execution driver advances it.
type Clock struct {
	start time.Time
	end   time.Time
	step  time.Duration
	total int
	index int
}

// New creates a clock covering [start, end] inclusive. The number of
// timesteps is the number of whole steps that fit in the range, plus one.
func New(start, end time.Time, step time.Duration) (*Clock, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step must be positive, got %s", ErrInvalidRange, step)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return &Clock{
		start: start,
		end:   end,
		step:  step,
		total: int(end.Sub(start)/step) + 1,
	}, nil
}

func (c *Clock) Start() time.Time       { return c.start }
func (c *Clock) End() time.Time         { return c.end }
func (c *Clock) Step() time.Duration    { return c.step }
func (c *Clock) Total() int             { return c.total }
func (c *Clock) MaxIndex() int          { return c.total - 1 }
func (c *Clock) Index() int             { return c.index }
func (c *Clock) DateAt(i int) time.Time { return c.start.Add(time.Duration(i) * c.step) }
func (c *Clock) Done() bool             { return c.index >= c.total }
func (c *Clock) Remaining() int         { return max(c.total-c.index, 0) }

// Resume positions the clock right after a saved timestep, so that the next
// tick carries index saved+1 and its matching date.
func (c *Clock) Resume(saved int) error {
	if saved < 0 || saved > c.MaxIndex() {
		return fmt.Errorf("%w: saved timestep %d outside [0, %d]", ErrInvalidRange, saved, c.MaxIndex())
	}
	c.index = saved + 1
	return nil
}

// Next returns the tick for the current index and advances the clock. It
// must not be called once Done reports true.
func (c *Clock) Next() Tick {
	if c.Done() {
		panic("clock: Next called after the end of the run")
	}
	t := Tick{Index: c.index, Date: c.DateAt(c.index), Max: c.MaxIndex()}
	c.index++
	return t
}
