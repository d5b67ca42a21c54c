// Package schedule decides when each source is owed a run.
package schedule

import "time"

// Clock is the time source for every scheduling decision.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always reports the same instant; handy in tests and dry runs.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
