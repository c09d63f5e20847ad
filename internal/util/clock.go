package util

import "time"

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

func SystemClock() Clock {
	return time.Now
}

// OrSystem returns c, or the system clock when c is nil.
func (c Clock) OrSystem() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// NextPacificMidnight is when the YouTube daily quota resets.
func NextPacificMidnight(now time.Time, location string) time.Time {
	loc, err := time.LoadLocation(location)
	if err != nil {
		loc = time.FixedZone("PT", -8*60*60)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}
