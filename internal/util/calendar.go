package util

import (
	"time"
)

// ThirdFriday returns the standard monthly option expiration date for the
// given month: its third Friday, at midnight UTC.
func ThirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// NextMonthlyExpiration returns the first standard monthly expiration
// strictly after t.
func NextMonthlyExpiration(t time.Time) time.Time {
	exp := ThirdFriday(t.Year(), t.Month())
	if !exp.After(t) {
		exp = ThirdFriday(t.Year(), t.Month()+1)
	}
	return exp
}

// IsExpired reports whether an option expiration has passed as of t.
// Expirations are calendar dates; the contract lives through the end of
// that day UTC.
func IsExpired(expiration, t time.Time) bool {
	return t.After(expiration.AddDate(0, 0, 1))
}
