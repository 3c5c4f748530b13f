package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// Penalty charges dailyRatePercent of the installment for every day past the
// grace period, capped at maxPenaltyPercent of the installment.
func Penalty(installmentAmount decimal.Decimal, daysOverdue int, dailyRatePercent decimal.Decimal, gracePeriodDays int, maxPenaltyPercent decimal.Decimal) decimal.Decimal {
	rawPercent := decimal.NewFromInt(int64(effectiveDays(daysOverdue, gracePeriodDays))).Mul(dailyRatePercent)
	cappedPercent := decimal.Min(rawPercent, maxPenaltyPercent)
	return capPenalty(installmentAmount.Mul(cappedPercent).Div(hundred), installmentAmount, maxPenaltyPercent)
}

// FixedPenalty charges a flat amount per day past the grace period, capped at
// maxPenaltyPercent of the installment.
func FixedPenalty(installmentAmount decimal.Decimal, daysOverdue int, perDay decimal.Decimal, gracePeriodDays int, maxPenaltyPercent decimal.Decimal) decimal.Decimal {
	raw := decimal.NewFromInt(int64(effectiveDays(daysOverdue, gracePeriodDays))).Mul(perDay)
	return capPenalty(raw, installmentAmount, maxPenaltyPercent)
}

// AssessPenalty prices the late penalty of an overdue installment as of
// today. The returned record has no ID yet.
func AssessPenalty(terms models.LoanTerms, loanID uuid.UUID, inst models.Installment, today time.Time) (models.Penalty, error) {
	if err := ValidateTerms(terms); err != nil {
		return models.Penalty{}, err
	}
	if inst.Status != models.InstallmentOverdue {
		return models.Penalty{}, fmt.Errorf("%w: installment %d is %s", ErrInvalidPenaltyTarget, inst.Number, inst.Status)
	}

	days := DaysBetween(inst.DueDate, today)
	var amount decimal.Decimal
	switch terms.LatePenaltyType {
	case models.PenaltyTypeFixedPerDay:
		amount = FixedPenalty(inst.TotalDue, days, terms.LatePenaltyValue, terms.GracePeriodDays, terms.MaxPenaltyPercent)
	default:
		amount = Penalty(inst.TotalDue, days, terms.LatePenaltyValue, terms.GracePeriodDays, terms.MaxPenaltyPercent)
	}

	return models.Penalty{
		LoanID:        loanID,
		InstallmentID: inst.ID,
		Amount:        amount,
		DaysOverdue:   days,
		CreatedAt:     today,
		Status:        models.PenaltyActive,
	}, nil
}

// MergePenalty folds a fresh assessment into the penalties already recorded
// for the loan. An installment carries at most one active penalty, so a
// re-evaluation updates the existing record in place. A waived penalty is
// final and blocks new ones for its installment. The bool reports whether the
// returned record needs to be written.
func MergePenalty(existing []models.Penalty, next models.Penalty) (models.Penalty, bool) {
	if !next.Amount.IsPositive() {
		return models.Penalty{}, false
	}
	for _, p := range existing {
		if p.InstallmentID != next.InstallmentID {
			continue
		}
		switch p.Status {
		case models.PenaltyWaived:
			return models.Penalty{}, false
		case models.PenaltyActive:
			if p.Amount.Equal(next.Amount) && p.DaysOverdue == next.DaysOverdue {
				return p, false
			}
			p.Amount = next.Amount
			p.DaysOverdue = next.DaysOverdue
			return p, true
		}
	}
	return next, true
}

// capPenalty rounds to cents without letting rounding lift the amount above
// the cap.
func capPenalty(amount, installmentAmount, maxPenaltyPercent decimal.Decimal) decimal.Decimal {
	limit := nonNegative(installmentAmount.Mul(maxPenaltyPercent).Div(hundred))
	rounded := RoundMoney(nonNegative(decimal.Min(amount, limit)))
	if rounded.GreaterThan(limit) {
		return limit.Truncate(moneyPlaces)
	}
	return rounded
}

func effectiveDays(daysOverdue, gracePeriodDays int) int {
	if d := daysOverdue - gracePeriodDays; d > 0 {
		return d
	}
	return 0
}
