// Package system provides the wall clock used to stamp sync runs.
package system

import "time"

// Clock implements epaper.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since reports the time elapsed since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
