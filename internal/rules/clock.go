package rules

import "sync/atomic"

// Clock is a monotonic logical clock for change and run ordering.
//
// Property mutations and rule executions are stamped with strictly
// increasing seq numbers from this clock, never wall-clock timestamps.
// This keeps "changed since last run" comparisons and message ordering
// deterministic and replayable.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though under the single-flow contract only one flow advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when resuming from a journal.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
