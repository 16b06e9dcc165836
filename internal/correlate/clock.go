package correlate

import (
	"sync"
	"time"
)

// clock is the correlator's notion of processing time: the latest alert
// timestamp seen, advanced by the wall-clock time elapsed since it moved.
// It never goes backwards. Alert timestamps drive it during replay, and
// wall time keeps it moving when traffic stops.
type clock struct {
	mu        sync.Mutex
	wall      func() time.Time
	watermark time.Time
	movedAt   time.Time
}

func newClock(wall func() time.Time) *clock {
	if wall == nil {
		wall = time.Now
	}
	return &clock{wall: wall}
}

func (c *clock) currentLocked(w time.Time) time.Time {
	if c.movedAt.IsZero() {
		return c.watermark
	}
	return c.watermark.Add(w.Sub(c.movedAt))
}

// observe folds an alert timestamp in and returns the processing time.
func (c *clock) observe(ts time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.wall()
	cur := c.currentLocked(w)
	if ts.After(cur) {
		c.watermark, c.movedAt = ts, w
		return ts
	}
	return cur
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(c.wall())
}
