package logx

import "sync/atomic"

// Counter is a monotonically increasing u32 generator. It wraps at the
// maximum value back to 1, never 0, so 0 remains available as an "unset"
// sentinel for serial numbers and connection IDs (spec.md §4.8).
type Counter struct {
	v atomic.Uint32
}

// Next returns the next value in sequence, starting at 1.
func (c *Counter) Next() uint32 {
	for {
		cur := c.v.Load()
		next := cur + 1
		if next == 0 {
			next = 1
		}
		if c.v.CompareAndSwap(cur, next) {
			return next
		}
	}
}
