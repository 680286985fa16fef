// Package localtime computes tenant-local day boundaries.
//
// All calculations go through time.LoadLocation so that zone rules and DST
// transitions are honored; a fixed UTC offset is never assumed.
package localtime

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// Countdown describes how long is left until the next local midnight.
type Countdown struct {
	Hours        int
	Minutes      int
	TotalSeconds int
}

// String formats the countdown for embedding in user-facing notices.
func (c Countdown) String() string {
	if c.Hours > 0 {
		return fmt.Sprintf("%dh %dm", c.Hours, c.Minutes)
	}
	return fmt.Sprintf("%dm", c.Minutes)
}

// UntilMidnight returns the time remaining until the next 00:00 wall-clock
// time in the given IANA timezone.
func UntilMidnight(tz string) (Countdown, error) {
	return UntilMidnightAt(tz, time.Now())
}

// UntilMidnightAt is UntilMidnight evaluated at an explicit instant.
// TotalSeconds is always in [0, 86400).
func UntilMidnightAt(tz string, now time.Time) (Countdown, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Countdown{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	local := now.In(loc)
	elapsed := local.Hour()*3600 + local.Minute()*60 + local.Second()
	total := secondsPerDay - elapsed
	if total == secondsPerDay {
		total = 0 // exactly midnight
	}

	return Countdown{
		Hours:        total / 3600,
		Minutes:      (total % 3600) / 60,
		TotalSeconds: total,
	}, nil
}

// IsNewLocalDay reports whether the current calendar date in tz differs from
// the calendar date of last in tz.
func IsNewLocalDay(last time.Time, tz string) (bool, error) {
	return IsNewLocalDayAt(last, tz, time.Now())
}

// IsNewLocalDayAt is IsNewLocalDay evaluated at an explicit instant.
func IsNewLocalDayAt(last time.Time, tz string, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	ly, lm, ld := last.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return ly != ny || lm != nm || ld != nd, nil
}
