// Package calendar does whole-day date arithmetic for loan periods.
package calendar

import "time"

// Date truncates t to midnight UTC of its calendar day in t's own location.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the calendar date n days after d.
func AddDays(d time.Time, n int) time.Time {
	return Date(d).AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// Clock returns the current time. Services take one so tests can pin "today".
type Clock func() time.Time

// Today returns the calendar date of the clock's current time.
func (c Clock) Today() time.Time {
	if c == nil {
		return Date(time.Now())
	}
	return Date(c())
}

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}
