package engine

import (
	"fmt"

	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// ValidateTerms rejects loan terms that no calculation can use. Unknown
// interest types are accepted and treated as flat.
func ValidateTerms(t models.LoanTerms) error {
	if !t.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive, got %s", ErrInvalidInput, t.Principal)
	}
	if !IsMoney(t.Principal) {
		return fmt.Errorf("%w: principal %s has more than two decimal places", ErrInvalidInput, t.Principal)
	}
	if t.TermDays < 0 || t.TermMonths < 0 || t.EffectiveTermDays() <= 0 {
		return fmt.Errorf("%w: term must be positive", ErrInvalidInput)
	}
	if _, _, err := InstallmentPlan(t.PaymentFrequency, t.EffectiveTermDays()); err != nil {
		return err
	}

	rates := []struct {
		name  string
		value decimal.Decimal
	}{
		{"annual interest rate", t.AnnualInterestRatePercent},
		{"processing fee percent", t.ProcessingFeePercent},
		{"platform fee", t.PlatformFee},
		{"late penalty value", t.LatePenaltyValue},
		{"max penalty percent", t.MaxPenaltyPercent},
	}
	for _, r := range rates {
		if r.value.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, r.name)
		}
	}
	if t.GracePeriodDays < 0 {
		return fmt.Errorf("%w: grace period must not be negative", ErrInvalidInput)
	}

	switch t.LatePenaltyType {
	case "", models.PenaltyTypePercentPerDay, models.PenaltyTypeFixedPerDay:
	default:
		return fmt.Errorf("%w: unknown late penalty type %q", ErrInvalidInput, t.LatePenaltyType)
	}
	switch t.InterestAccrual {
	case "", models.AccrualUpfront, models.AccrualDaily:
	default:
		return fmt.Errorf("%w: unknown interest accrual %q", ErrInvalidInput, t.InterestAccrual)
	}
	switch t.FeeCollection {
	case "", models.FeesDeducted, models.FeesFinanced:
	default:
		return fmt.Errorf("%w: unknown fee collection %q", ErrInvalidInput, t.FeeCollection)
	}
	return nil
}

// NormalizeTerms fills in the conventions left empty by the caller.
func NormalizeTerms(t models.LoanTerms) models.LoanTerms {
	if t.InterestType == "" {
		t.InterestType = models.InterestTypeFlat
	}
	if t.LatePenaltyType == "" {
		t.LatePenaltyType = models.PenaltyTypePercentPerDay
	}
	if t.InterestAccrual == "" {
		t.InterestAccrual = models.AccrualUpfront
	}
	if t.FeeCollection == "" {
		t.FeeCollection = models.FeesDeducted
	}
	return t
}
