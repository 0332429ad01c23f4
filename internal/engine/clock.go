package engine

import "sync/atomic"

// Clock hands out the Seq stamped on derived events. Seqs are strictly
// increasing across all units and lineages, so listener delivery order and
// the stored log agree without consulting wall time.
type Clock struct {
	last atomic.Int64
}

// NewClock starts at zero; the first Next is 1.
func NewClock() *Clock { return new(Clock) }

// NewClockAt resumes after last, typically the store's MaxSeq.
func NewClockAt(last int64) *Clock {
	c := new(Clock)
	c.last.Store(last)
	return c
}

func (c *Clock) Next() int64 { return c.last.Add(1) }

// Current is the most recent Seq issued, or the resume point.
func (c *Clock) Current() int64 { return c.last.Load() }
