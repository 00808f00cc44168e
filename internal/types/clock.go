package types

import "time"

// Clock abstracts time for testability. The scheduler, trigger engine, and
// delivery engine all consult an injected Clock so tests can drive
// simulated time without sleeping.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
