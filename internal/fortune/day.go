// Package fortune computes the daily fortune value for a user and classifies
// it into a labelled band.
package fortune

import (
	"fmt"
	"time"
)

// DayKeyLayout is the layout of every DayKey.
const DayKeyLayout = "2006-01-02"

// DayKey is a calendar date in the engine's timezone. Two keys refer to the
// same day only if their strings are equal.
type DayKey string

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return realClock{} }

// DayOf returns the DayKey of t in loc. A nil loc means time.Local.
func DayOf(t time.Time, loc *time.Location) DayKey {
	if loc == nil {
		loc = time.Local
	}
	return DayKey(t.In(loc).Format(DayKeyLayout))
}

// Today returns the current DayKey according to clock.
func Today(clock Clock, loc *time.Location) DayKey {
	return DayOf(clock.Now(), loc)
}

// ParseDayKey validates s and returns it as a DayKey.
func ParseDayKey(s string) (DayKey, error) {
	if _, err := time.Parse(DayKeyLayout, s); err != nil {
		return "", fmt.Errorf("invalid day key %q: %w", s, err)
	}
	return DayKey(s), nil
}

// AddDays returns the key n days after d. Invalid keys are returned unchanged.
func (d DayKey) AddDays(n int) DayKey {
	t, err := time.Parse(DayKeyLayout, string(d))
	if err != nil {
		return d
	}
	return DayKey(t.AddDate(0, 0, n).Format(DayKeyLayout))
}

func (d DayKey) String() string { return string(d) }
