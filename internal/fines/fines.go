// Package fines derives loan duration, overdue days and fine amounts from timestamps.
package fines

import "time"

const (
	// DefaultFreeDays is the grace period before a loan starts accruing fines.
	DefaultFreeDays = 7

	// DefaultRatePerDay is the fine per overdue day, in the smallest currency unit.
	DefaultRatePerDay int64 = 5

	day = 24 * time.Hour
)

// Policy holds the fine parameters.
type Policy struct {
	FreeDays   int
	RatePerDay int64
}

// DefaultPolicy returns the standard 7 free days at DefaultRatePerDay.
func DefaultPolicy() Policy {
	return Policy{FreeDays: DefaultFreeDays, RatePerDay: DefaultRatePerDay}
}

// DaysElapsed returns the whole days between issuedAt and ref, floored, never negative.
func DaysElapsed(issuedAt, ref time.Time) int {
	elapsed := ref.Sub(issuedAt)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / day)
}

// OverdueDays returns the portion of days beyond the grace period.
func (p Policy) OverdueDays(days int) int {
	if overdue := days - p.FreeDays; overdue > 0 {
		return overdue
	}
	return 0
}

// Fine returns the fine owed for a loan lasting days.
func (p Policy) Fine(days int) int64 {
	return int64(p.OverdueDays(days)) * p.RatePerDay
}

// IsOverdue reports whether a loan of the given length has passed the grace period.
func (p Policy) IsOverdue(days int) bool {
	return p.OverdueDays(days) > 0
}

// Assess computes days and fine for a loan issued at issuedAt, evaluated at ref.
func (p Policy) Assess(issuedAt, ref time.Time) (days int, fine int64) {
	days = DaysElapsed(issuedAt, ref)
	return days, p.Fine(days)
}
