package recon

import (
	"sync"
	"time"
)

// Allow is non-blocking; a denied caller coalesces rather than waits.
type cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newCooldown(interval time.Duration) *cooldown {
	return &cooldown{interval: interval, now: time.Now}
}

func (c *cooldown) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < c.interval {
		return false
	}
	c.last = now
	return true
}
