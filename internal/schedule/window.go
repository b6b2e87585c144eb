package schedule

import "time"

// Window is the daily time-of-day range during which automated posting
// is permitted. The range is inclusive on both ends: with the default
// window, 08:00:00 and 23:55:59 are inside, 23:56:00 is outside.
//
// Window does no timezone conversion; instants are interpreted in the
// location they carry. Callers are expected to normalize to the
// service-wide location first.
type Window struct {
	StartHour int
	EndHour   int
	EndMinute int
}

// DefaultWindow is 08:00-23:55, the range the posting provider tolerates
// without tripping nightly engagement filters.
func DefaultWindow() Window {
	return Window{StartHour: 8, EndHour: 23, EndMinute: 55}
}

// Valid reports whether the window describes a non-empty daily range.
func (w Window) Valid() bool {
	if w.StartHour < 0 || w.StartHour > 23 {
		return false
	}
	if w.EndHour < 0 || w.EndHour > 23 {
		return false
	}
	if w.EndMinute < 0 || w.EndMinute > 59 {
		return false
	}
	return w.StartHour <= w.EndHour
}

// Contains reports whether t falls within the active hours on its
// calendar day.
func (w Window) Contains(t time.Time) bool {
	h, m := t.Hour(), t.Minute()
	if h < w.StartHour {
		return false
	}
	if h > w.EndHour {
		return false
	}
	if h == w.EndHour && m > w.EndMinute {
		return false
	}
	return true
}

// NextActive returns the earliest instant at or after t that is inside
// the window: t itself when already active, the same day's window start
// when t is before it, and the next day's window start when t is at or
// past the window end.
func (w Window) NextActive(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	y, mo, d := t.Date()
	start := time.Date(y, mo, d, w.StartHour, 0, 0, 0, t.Location())
	if t.Before(start) {
		return start
	}
	return start.AddDate(0, 0, 1)
}
