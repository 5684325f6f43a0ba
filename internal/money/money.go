// Package money provides decimal amount and calendar-day helpers shared by
// the escalation and installment code.
package money

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits amounts are quantized to.
const Scale int32 = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse parses a decimal string amount.
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParse parses a decimal string amount and panics on error. Test helper.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Truncate drops digits beyond Scale without rounding.
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the calendar date n days after t.
func AddDays(t time.Time, n int) time.Time {
	return Date(t).AddDate(0, 0, n)
}

// DaysBetween returns the whole number of calendar days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// DaysOverdue returns max(0, today - due) in whole days.
func DaysOverdue(due, now time.Time) int {
	if due.IsZero() {
		return 0
	}
	days := DaysBetween(due, now)
	if days < 0 {
		return 0
	}
	return days
}

// Before reports whether the calendar day of a is strictly before that of b.
func Before(a, b time.Time) bool {
	return Date(a).Before(Date(b))
}
