package engine

import (
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// FlatInterest is simple interest on the original principal over the term:
// principal * rate * days / 36500.
func FlatInterest(principal, ratePercent decimal.Decimal, termDays int) decimal.Decimal {
	return RoundMoney(flatInterest(principal, ratePercent, termDays))
}

// ReducingInterest approximates reducing-balance interest by charging flat
// interest on the average outstanding balance, principal/2.
func ReducingInterest(principal, ratePercent decimal.Decimal, termDays int) decimal.Decimal {
	return RoundMoney(flatInterest(principal.Div(decimal.NewFromInt(2)), ratePercent, termDays))
}

// CompoundInterest compounds annually: principal * ((1 + rate/100)^(days/365) - 1).
func CompoundInterest(principal, ratePercent decimal.Decimal, termDays int) decimal.Decimal {
	if ratePercent.IsZero() || termDays <= 0 {
		return decimal.Zero
	}
	return RoundMoney(principal.Mul(growthFactor(ratePercent, termDays).Sub(one)))
}

// Interest dispatches on the interest type. Anything unrecognised is flat.
func Interest(kind models.InterestType, principal, ratePercent decimal.Decimal, termDays int) decimal.Decimal {
	switch kind {
	case models.InterestTypeReducing:
		return ReducingInterest(principal, ratePercent, termDays)
	case models.InterestTypeCompound:
		return CompoundInterest(principal, ratePercent, termDays)
	default:
		return FlatInterest(principal, ratePercent, termDays)
	}
}

// AccruedInterest is the interest earned after elapsedDays of the term. It
// never exceeds the full-term interest.
func AccruedInterest(terms models.LoanTerms, elapsedDays int) decimal.Decimal {
	termDays := terms.EffectiveTermDays()
	if elapsedDays <= 0 {
		return decimal.Zero
	}
	if elapsedDays > termDays {
		elapsedDays = termDays
	}
	return Interest(terms.InterestType, terms.Principal, terms.AnnualInterestRatePercent, elapsedDays)
}

func flatInterest(principal, ratePercent decimal.Decimal, termDays int) decimal.Decimal {
	return principal.Mul(ratePercent).Mul(decimal.NewFromInt(int64(termDays))).Div(yearPct)
}

func growthFactor(ratePercent decimal.Decimal, termDays int) decimal.Decimal {
	base := one.Add(ratePercent.Div(hundred))
	if termDays%365 == 0 {
		return base.Pow(decimal.NewFromInt(int64(termDays / 365)))
	}

	// base >= 1, so both the logarithm and the exponential are defined.
	ln, err := base.Ln(powPrecision)
	if err != nil {
		panic(err)
	}
	exponent := ln.Mul(decimal.NewFromInt(int64(termDays))).Div(daysInYear)
	factor, err := exponent.ExpTaylor(powPrecision)
	if err != nil {
		panic(err)
	}
	return factor
}
