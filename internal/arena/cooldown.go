package arena

import "time"

// Cooldown counts down a fixed period. Tick reports when the period has
// elapsed and starts the next one.
type Cooldown struct {
	period    time.Duration
	remaining time.Duration
}

// NewCooldown constructs a cooldown that fires after one full period.
func NewCooldown(period time.Duration) Cooldown {
	return Cooldown{period: period, remaining: period}
}

// Tick advances the countdown and reports whether it fired.
func (c *Cooldown) Tick(delta time.Duration) bool {
	c.remaining -= delta
	if c.remaining > 0 {
		return false
	}
	c.remaining = c.period
	return true
}

// Reset restarts the current period.
func (c *Cooldown) Reset() { c.remaining = c.period }

// Remaining reports the time left before the cooldown fires.
func (c *Cooldown) Remaining() time.Duration {
	if c.remaining < 0 {
		return 0
	}
	return c.remaining
}
