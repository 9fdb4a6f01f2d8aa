package clock

import "time"

// FakeClock is a manually advanced Clock for tests. Billing math is
// date-sensitive, so tests pin the clock instead of sleeping.
type FakeClock struct {
	now time.Time
}

// NewFakeClock pins the clock at t, normalized to UTC the same way
// systemClock reports it.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward (or backward, with a negative d).
func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Set jumps the clock to an absolute instant.
func (c *FakeClock) Set(t time.Time) { c.now = t.UTC() }
