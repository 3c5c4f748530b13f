package engine

import (
	"fmt"
	"time"

	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// ScheduleRequest carries the amounts a repayment schedule must cover.
type ScheduleRequest struct {
	Principal        decimal.Decimal
	TotalInterest    decimal.Decimal
	TotalFees        decimal.Decimal // Fees repaid through installments; zero when withheld at disbursement
	TermDays         int
	Frequency        models.PaymentFrequency
	DisbursementDate time.Time
}

// TotalAmount is the sum every schedule built from the request must reach.
func (r ScheduleRequest) TotalAmount() decimal.Decimal {
	return RoundMoney(r.Principal).Add(RoundMoney(r.TotalInterest)).Add(RoundMoney(r.TotalFees))
}

// InstallmentPlan returns how many installments a term splits into and the
// number of days between due dates.
func InstallmentPlan(freq models.PaymentFrequency, termDays int) (count, stepDays int, err error) {
	if termDays <= 0 {
		return 0, 0, fmt.Errorf("%w: term must be positive, got %d days", ErrInvalidInput, termDays)
	}
	switch freq {
	case models.FrequencyDaily:
		return termDays, 1, nil
	case models.FrequencyWeekly:
		return ceilDiv(termDays, 7), 7, nil
	case models.FrequencyMonthly:
		return ceilDiv(termDays, 30), 30, nil
	}
	return 0, 0, fmt.Errorf("%w: unknown payment frequency %q", ErrInvalidInput, freq)
}

// ScheduleFor builds the repayment schedule of a quoted loan.
func ScheduleFor(terms models.LoanTerms, q Quote, disbursedAt time.Time) ([]models.Installment, error) {
	return GenerateSchedule(ScheduleRequest{
		Principal:        terms.Principal,
		TotalInterest:    q.Interest,
		TotalFees:        q.ScheduledFees,
		TermDays:         terms.EffectiveTermDays(),
		Frequency:        terms.PaymentFrequency,
		DisbursementDate: disbursedAt,
	})
}

// GenerateSchedule splits the total into equal installments. The last one
// absorbs the rounding remainder so the schedule sums to the total exactly.
// Each installment's principal, fee and interest portions follow the loan's
// overall proportions, to the cent.
func GenerateSchedule(req ScheduleRequest) ([]models.Installment, error) {
	if !req.Principal.IsPositive() {
		return nil, fmt.Errorf("%w: principal must be positive, got %s", ErrInvalidInput, req.Principal)
	}
	if req.TotalInterest.IsNegative() || req.TotalFees.IsNegative() {
		return nil, fmt.Errorf("%w: interest and fees must not be negative", ErrInvalidInput)
	}
	n, step, err := InstallmentPlan(req.Frequency, req.TermDays)
	if err != nil {
		return nil, err
	}

	// principal, fee, interest
	targets := [3]int64{toCents(req.Principal), toCents(req.TotalFees), toCents(req.TotalInterest)}
	total := targets[0] + targets[1] + targets[2]
	if total < int64(n) {
		return nil, fmt.Errorf("%w: %s cannot be split into %d installments of at least one cent",
			ErrInvalidInput, fromCents(total).StringFixed(2), n)
	}
	amounts := installmentAmounts(total, n)
	start := DayOf(req.DisbursementDate)

	var allocated [3]int64
	var cumulative int64
	schedule := make([]models.Installment, 0, n)
	for i, amount := range amounts {
		cumulative += amount
		parts := splitInstallment(amount, targets, allocated, cumulative, total)
		for c := range parts {
			allocated[c] += parts[c]
		}

		schedule = append(schedule, models.Installment{
			Number:       i + 1,
			DueDate:      start.AddDate(0, 0, (i+1)*step),
			PrincipalDue: fromCents(parts[0]),
			FeeDue:       fromCents(parts[1]),
			InterestDue:  fromCents(parts[2]),
			TotalDue:     fromCents(amount),
			AmountPaid:   decimal.Zero,
			Status:       models.InstallmentPending,
		})
	}

	if err := CheckScheduleIntegrity(schedule, req); err != nil {
		return nil, err
	}
	return schedule, nil
}

// CheckScheduleIntegrity verifies that installments are internally
// consistent and add up to the request. A failure is a defect in schedule
// generation, never a user error.
func CheckScheduleIntegrity(schedule []models.Installment, req ScheduleRequest) error {
	var sumTotal, sumPrincipal, sumInterest, sumFees decimal.Decimal
	for _, inst := range schedule {
		if inst.PrincipalDue.IsNegative() || inst.InterestDue.IsNegative() || inst.FeeDue.IsNegative() {
			return fmt.Errorf("%w: installment %d has a negative component", ErrScheduleIntegrity, inst.Number)
		}
		if !inst.PrincipalDue.Add(inst.InterestDue).Add(inst.FeeDue).Equal(inst.TotalDue) {
			return fmt.Errorf("%w: installment %d components do not add up to %s", ErrScheduleIntegrity, inst.Number, inst.TotalDue)
		}
		sumTotal = sumTotal.Add(inst.TotalDue)
		sumPrincipal = sumPrincipal.Add(inst.PrincipalDue)
		sumInterest = sumInterest.Add(inst.InterestDue)
		sumFees = sumFees.Add(inst.FeeDue)
	}

	if !sumTotal.Equal(req.TotalAmount()) {
		return fmt.Errorf("%w: installments sum to %s, expected %s", ErrScheduleIntegrity, sumTotal.StringFixed(2), req.TotalAmount().StringFixed(2))
	}
	if !sumPrincipal.Equal(RoundMoney(req.Principal)) || !sumInterest.Equal(RoundMoney(req.TotalInterest)) || !sumFees.Equal(RoundMoney(req.TotalFees)) {
		return fmt.Errorf("%w: component totals drifted from the request", ErrScheduleIntegrity)
	}
	return nil
}

// InstallmentStatuses fills in AmountPaid and Status by walking the schedule
// in order and covering each installment from the amount applied to the
// schedule so far. The input slice is not modified.
func InstallmentStatuses(schedule []models.Installment, applied decimal.Decimal, today time.Time) []models.Installment {
	out := make([]models.Installment, len(schedule))
	remaining := nonNegative(applied)
	day := DayOf(today)

	for i, inst := range schedule {
		covered := decimal.Min(remaining, inst.TotalDue)
		remaining = remaining.Sub(covered)
		inst.AmountPaid = covered

		switch {
		case covered.Equal(inst.TotalDue):
			inst.Status = models.InstallmentPaid
		case covered.IsPositive():
			inst.Status = models.InstallmentPartial
		case DayOf(inst.DueDate).Before(day):
			inst.Status = models.InstallmentOverdue
		default:
			inst.Status = models.InstallmentPending
		}
		out[i] = inst
	}
	return out
}

func installmentAmounts(total int64, n int) []int64 {
	count := int64(n)
	base := (2*total + count) / (2 * count) // half-up
	if base*(count-1) > total {
		base = total / count
	}

	amounts := make([]int64, n)
	for i := 0; i < n-1; i++ {
		amounts[i] = base
	}
	amounts[n-1] = total - base*(count-1)
	return amounts
}

// splitInstallment divides one installment's cents between the components
// so that each component's running total tracks its proportional share of
// the cumulative amount scheduled so far.
func splitInstallment(amount int64, targets, allocated [3]int64, cumulative, total int64) [3]int64 {
	var parts [3]int64
	var leftover [3]decimal.Decimal
	var sum int64

	for c := range targets {
		remaining := targets[c] - allocated[c]
		ideal := decimal.NewFromInt(targets[c]).
			Mul(decimal.NewFromInt(cumulative)).
			Div(decimal.NewFromInt(total)).
			Sub(decimal.NewFromInt(allocated[c]))
		ideal = nonNegative(ideal)

		whole := ideal.Floor().IntPart()
		if whole > remaining {
			whole = remaining
		}
		parts[c] = whole
		leftover[c] = ideal.Sub(decimal.NewFromInt(whole))
		sum += whole
	}

	// A component that ran ahead earlier can leave the floors above the amount.
	for sum > amount {
		largest := 0
		for c := range parts {
			if parts[c] > parts[largest] {
				largest = c
			}
		}
		parts[largest]--
		sum--
	}

	for sum < amount {
		best := -1
		for c := range parts {
			if allocated[c]+parts[c] >= targets[c] {
				continue
			}
			if best < 0 || leftover[c].GreaterThan(leftover[best]) {
				best = c
			}
		}
		if best < 0 {
			break
		}
		parts[best]++
		leftover[best] = leftover[best].Sub(one)
		sum++
	}
	return parts
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
