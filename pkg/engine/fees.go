package engine

import (
	"fmt"

	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// ProcessingFee is a percentage of the principal.
func ProcessingFee(principal, feePercent decimal.Decimal) decimal.Decimal {
	return RoundMoney(principal.Mul(feePercent).Div(hundred))
}

// PlatformFee is the configured flat fee.
func PlatformFee(configured decimal.Decimal) decimal.Decimal {
	return RoundMoney(configured)
}

// NetProceeds is what the borrower receives. Interest is collected through
// the schedule and is not withheld.
func NetProceeds(principal, interest, processingFee, platformFee decimal.Decimal) decimal.Decimal {
	return RoundMoney(principal.Sub(processingFee).Sub(platformFee))
}

// TotalRepayable is principal plus interest plus the platform fee.
func TotalRepayable(principal, interest, platformFee decimal.Decimal) decimal.Decimal {
	return RoundMoney(principal.Add(interest).Add(platformFee))
}

// Quote summarises the money of a loan before disbursement.
type Quote struct {
	Interest       decimal.Decimal `json:"interest"`
	ProcessingFee  decimal.Decimal `json:"processing_fee"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	NetProceeds    decimal.Decimal `json:"net_proceeds"`
	TotalRepayable decimal.Decimal `json:"total_repayable"`
	ScheduledFees  decimal.Decimal `json:"scheduled_fees"` // Fees repaid through installments
	ScheduleTotal  decimal.Decimal `json:"schedule_total"`
}

// QuoteLoan applies the terms' fee convention. Deducted fees are withheld
// from the disbursement; financed fees withhold only the processing fee and
// add the platform fee to the schedule.
func QuoteLoan(terms models.LoanTerms) (Quote, error) {
	if err := ValidateTerms(terms); err != nil {
		return Quote{}, err
	}

	interest := Interest(terms.InterestType, terms.Principal, terms.AnnualInterestRatePercent, terms.EffectiveTermDays())
	q := Quote{
		Interest:       interest,
		ProcessingFee:  ProcessingFee(terms.Principal, terms.ProcessingFeePercent),
		PlatformFee:    PlatformFee(terms.PlatformFee),
		TotalRepayable: TotalRepayable(terms.Principal, interest, PlatformFee(terms.PlatformFee)),
	}

	if terms.FeeCollection == models.FeesFinanced {
		q.NetProceeds = NetProceeds(terms.Principal, interest, q.ProcessingFee, decimal.Zero)
		q.ScheduledFees = q.PlatformFee
		q.ScheduleTotal = q.TotalRepayable
	} else {
		q.NetProceeds = NetProceeds(terms.Principal, interest, q.ProcessingFee, q.PlatformFee)
		q.ScheduledFees = decimal.Zero
		q.ScheduleTotal = RoundMoney(terms.Principal.Add(interest))
	}

	if !q.NetProceeds.IsPositive() {
		return Quote{}, fmt.Errorf("%w: net proceeds %s must be positive", ErrInvalidInput, q.NetProceeds.StringFixed(2))
	}
	return q, nil
}
