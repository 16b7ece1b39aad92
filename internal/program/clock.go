// ABOUTME: Time source for event timestamps and record updates
// ABOUTME: Wall clock by default, replaceable with a function in tests

package program

import "time"

// Clock supplies the time stamped on events.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }
