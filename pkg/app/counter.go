package app

import "sync/atomic"

// Counter tracks outstanding executions across every window in the process.
// It is the only mutable state shared across window boundaries: incremented
// on dispatch, decremented on completion or cancellation, floored at zero.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc() {
	c.value.Add(1)
}

func (c *Counter) Dec() {
	for {
		current := c.value.Load()
		if current == 0 {
			return
		}
		if c.value.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (c *Counter) Value() int64 {
	return c.value.Load()
}
