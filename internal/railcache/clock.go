package railcache

import "math"

// Tick is a logical clock value. One tick is one simulation step.
type Tick uint64

// add returns t+n, saturating at the maximum instead of wrapping.
func (t Tick) add(n int) Tick {
	if n <= 0 {
		return t
	}
	if uint64(t) > math.MaxUint64-uint64(n) {
		return math.MaxUint64
	}
	return t + Tick(n)
}

// sub returns t-n, saturating at zero.
func (t Tick) sub(n int) Tick {
	if n <= 0 {
		return t
	}
	if uint64(t) < uint64(n) {
		return 0
	}
	return t - Tick(n)
}

// Clock is the monotonic logical clock shared by every world cache of an Index.
// It starts at 1 so that a zero life tick always reads as stale.
type Clock struct {
	now Tick
}

func NewClock() *Clock {
	return &Clock{now: 1}
}

func (c *Clock) Now() Tick { return c.now }

// Advance moves the clock one tick forward. It saturates rather than wraps;
// at 20 ticks per second the limit is billions of years away.
func (c *Clock) Advance() Tick {
	c.now = c.now.add(1)
	return c.now
}
