package utils

import "time"

// NowUTC returns current time in UTC timezone.
// Ledger timestamps and usage windows all go through it.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// StartOfMonthUTC returns midnight UTC on the first day of t's month
func StartOfMonthUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
