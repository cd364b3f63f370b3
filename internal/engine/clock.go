package engine

import "sync/atomic"

// Clock hands out the sequence numbers that order observer events. A trace
// built from one engine is totally ordered by them, and a trace store that
// several runs append to stays ordered when each run's clock resumes after
// the store's highest number.
type Clock struct {
	last atomic.Int64
}

// NewClock creates a clock whose first number is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first number is last+1.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.Resume(last)
	return c
}

// Resume moves the clock forward so the next number is greater than last.
// A clock already past last is left alone.
func (c *Clock) Resume(last int64) {
	for {
		cur := c.last.Load()
		if cur >= last || c.last.CompareAndSwap(cur, last) {
			return
		}
	}
}

// Next stamps one event.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current returns the number of the latest event, or the resume point if
// nothing has been stamped since.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
