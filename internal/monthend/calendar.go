package monthend

import "time"

const periodLayout = "2006-01"

// DaysInMonth returns the number of days in t's month
func DaysInMonth(t time.Time) int {
	// Day 0 of the next month is the last day of this one
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsLastDayOfMonth reports whether t falls on the last calendar day of its
// month, in t's own location
func IsLastDayOfMonth(t time.Time) bool {
	return t.Day() == DaysInMonth(t)
}

// Period formats the billing period of t ("2006-01")
func Period(t time.Time) string {
	return t.Format(periodLayout)
}
