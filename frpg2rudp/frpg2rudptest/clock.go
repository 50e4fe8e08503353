// Package frpg2rudptest holds test doubles shared by frpg2rudp's own
// tests and by consumers of the module: a controllable clock and an
// in-memory, optionally lossy Transport, so the retransmit and timeout
// state machines can be driven deterministically instead of against a
// real socket and wall clock.
package frpg2rudptest

// FakeClock is a frpg2rudp.Clock a test can advance explicitly.
type FakeClock struct {
	now float64
}

// NewFakeClock returns a FakeClock starting at t=0.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// Now implements frpg2rudp.Clock.
func (c *FakeClock) Now() float64 { return c.now }

// Advance moves the clock forward by seconds.
func (c *FakeClock) Advance(seconds float64) {
	c.now += seconds
}
