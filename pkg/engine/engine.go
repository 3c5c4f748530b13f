// Package engine holds the loan calculation and payment allocation math:
// interest, fees, repayment schedules, late penalties, payment waterfalls
// and balance snapshots.
//
// Every function is pure. Nothing here reads the clock, touches storage or
// keeps state between calls, so the package is safe for any number of
// concurrent callers. Callers that persist the results must serialize the
// snapshot-then-allocate sequence per loan themselves.
package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Error kinds. Returned errors wrap one of these; test with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrOverAllocation       = errors.New("payment exceeds outstanding balance")
	ErrInvalidPenaltyTarget = errors.New("installment is not overdue")
	ErrScheduleIntegrity    = errors.New("schedule integrity violation")
)

const (
	moneyPlaces  = 2
	powPrecision = 16
)

var (
	hundred    = decimal.NewFromInt(100)
	daysInYear = decimal.NewFromInt(365)
	yearPct    = daysInYear.Mul(hundred)
	one        = decimal.NewFromInt(1)
)

// RoundMoney rounds to cents, half-up for non-negative amounts.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// IsMoney reports whether d carries no more than two decimal places.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyPlaces))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func toCents(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(moneyPlaces).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -moneyPlaces)
}

// DayOf truncates t to midnight UTC of its calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b; negative when b is earlier.
func DaysBetween(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)).Hours() / 24)
}
