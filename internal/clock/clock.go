package clock

import "time"

// Clock abstracts time so session durations, focus timers and sample
// intervals can run against either the wall clock or a virtual one.
// Nothing in Beacon calls time.Now() directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// After returns a channel that receives the current time after duration d.
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the standard time package.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Millis returns d as whole milliseconds, the unit every telemetry
// payload uses for durations.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
