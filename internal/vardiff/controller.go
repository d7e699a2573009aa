// Package vardiff retunes per-session share difficulty so miners submit at a
// steady target rate regardless of their hashrate.
package vardiff

import (
	"math"
	"sync"
	"time"
)

// minSamples is the fewest accepted shares in the trailing hour before an
// adjustment is considered; below it the estimate is too noisy to act on.
const minSamples = 10

// hysteresis is the relative change under which Apply does nothing.
const hysteresis = 0.01

// Controller tracks accepted-share timestamps and derives the difficulty
// that steers the observed rate toward the configured target.
type Controller struct {
	mu      sync.Mutex
	current float64
	min     float64
	max     float64
	target  float64
	enabled bool
	window  []time.Time
}

// NewController returns a Controller starting at the given difficulty.
// target is the desired accepted shares per minute.
func NewController(start, min, max, target float64, enabled bool) *Controller {
	return &Controller{
		current: start,
		min:     min,
		max:     max,
		target:  target,
		enabled: enabled,
	}
}

// Current returns the difficulty currently in force.
func (c *Controller) Current() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Record notes an accepted share at time t.
func (c *Controller) Record(t time.Time) {
	c.mu.Lock()
	c.window = append(c.window, t)
	c.prune(time.Now())
	c.mu.Unlock()
}

// SharesLastHour returns how many accepted shares fall in the trailing hour.
func (c *Controller) SharesLastHour() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(time.Now())
	return len(c.window)
}

// prune drops timestamps older than one hour. Caller holds the lock.
func (c *Controller) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(c.window) && c.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.window = append(c.window[:0], c.window[i:]...)
	}
}

// Recompute derives the candidate difficulty from the trailing-hour share
// rate. Disabled controllers and thin samples return the current value
// unchanged. The result is clamped to the configured bounds and to a 4x
// change factor per adjustment.
func (c *Controller) Recompute() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recomputeLocked()
}

func (c *Controller) recomputeLocked() float64 {
	if !c.enabled {
		return c.current
	}
	c.prune(time.Now())
	if len(c.window) < minSamples {
		return c.current
	}

	perMinute := float64(len(c.window)) / 60.0
	ratio := perMinute / c.target
	candidate := c.current * math.Sqrt(ratio)

	if candidate > c.current*4 {
		candidate = c.current * 4
	}
	if candidate < c.current/4 {
		candidate = c.current / 4
	}
	if candidate > c.max {
		candidate = c.max
	}
	if candidate < c.min {
		candidate = c.min
	}
	return candidate
}

// Apply recomputes and, when the result moves by at least one percent,
// commits it and hands the new difficulty to broadcast for fan-out. It
// reports whether a change was committed.
func (c *Controller) Apply(broadcast func(float64)) bool {
	c.mu.Lock()
	candidate := c.recomputeLocked()
	if math.Abs(candidate-c.current)/c.current < hysteresis {
		c.mu.Unlock()
		return false
	}
	c.current = candidate
	c.mu.Unlock()

	if broadcast != nil {
		broadcast(candidate)
	}
	return true
}
