package ratelimit

import "time"

// Millis is a wrapping 32-bit millisecond tick. It rolls over roughly
// every 49.7 days, so two ticks are only comparable through their
// difference, never with < or >.
type Millis uint32

// Sub returns m - o as a signed distance. It is correct across rollover
// as long as the true distance is under about 24.8 days.
func (m Millis) Sub(o Millis) int32 {
	return int32(m - o) //nolint:gosec // Wrapping conversion is the point
}

// Before reports whether m precedes o.
func (m Millis) Before(o Millis) bool {
	return m.Sub(o) < 0
}

// Age returns how long ago o was relative to m, as an unsigned span.
// Unlike Sub it stays monotonic for spans up to the full 49.7 day period.
func (m Millis) Age(o Millis) uint32 {
	return uint32(m - o)
}

// Add returns m advanced by d milliseconds, wrapping.
func (m Millis) Add(d uint32) Millis {
	return m + Millis(d)
}

// Clock produces Millis ticks.
type Clock interface {
	Now() Millis
}

// MonotonicClock counts milliseconds since it was created using the
// runtime monotonic clock, truncated to 32 bits.
type MonotonicClock struct {
	epoch time.Time
}

// NewMonotonicClock starts a clock at tick 0.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{epoch: time.Now()}
}

// Now implements Clock.
func (c *MonotonicClock) Now() Millis {
	return Millis(uint64(time.Since(c.epoch).Milliseconds())) //nolint:gosec // Millis wraps every ~49.7 days
}

// toMillis converts a duration to a millisecond span, saturating at the
// largest span Sub can represent.
func toMillis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms > int64(^uint32(0)>>1):
		return ^uint32(0) >> 1
	}
	return uint32(ms)
}
