// Package system provides the wall clock used to time requests.
package system

import "time"

// Clock implements a clock on top of time.Now. Readings keep their monotonic
// component, so differences between them are safe for measuring durations.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now()
}
