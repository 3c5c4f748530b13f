package engine

import (
	"testing"

	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseTerms() models.LoanTerms {
	return models.LoanTerms{
		Principal:                 dec("10000"),
		AnnualInterestRatePercent: dec("18"),
		TermDays:                  365,
		InterestType:              models.InterestTypeFlat,
		PaymentFrequency:          models.FrequencyMonthly,
		ProcessingFeePercent:      dec("2"),
		PlatformFee:               dec("50"),
		LatePenaltyType:           models.PenaltyTypePercentPerDay,
		LatePenaltyValue:          dec("1"),
		GracePeriodDays:           3,
		MaxPenaltyPercent:         dec("10"),
	}
}

func TestFeeCalculations(t *testing.T) {
	assertMoney(t, "200.00", ProcessingFee(dec("10000"), dec("2")))
	assertMoney(t, "12.35", ProcessingFee(dec("987.65"), dec("1.25")))
	assertMoney(t, "50.00", PlatformFee(dec("50")))
	assertMoney(t, "9750.00", NetProceeds(dec("10000"), dec("1800"), dec("200"), dec("50")))
	assertMoney(t, "11850.00", TotalRepayable(dec("10000"), dec("1800"), dec("50")))
}

func TestQuoteLoan_DeductedFees(t *testing.T) {
	q, err := QuoteLoan(baseTerms())
	require.NoError(t, err)

	assertMoney(t, "1800.00", q.Interest)
	assertMoney(t, "200.00", q.ProcessingFee)
	assertMoney(t, "50.00", q.PlatformFee)
	assertMoney(t, "9750.00", q.NetProceeds)
	assertMoney(t, "11850.00", q.TotalRepayable)
	assertMoney(t, "0", q.ScheduledFees)
	assertMoney(t, "11800.00", q.ScheduleTotal)
}

func TestQuoteLoan_FinancedFees(t *testing.T) {
	terms := baseTerms()
	terms.FeeCollection = models.FeesFinanced

	q, err := QuoteLoan(terms)
	require.NoError(t, err)

	assertMoney(t, "9800.00", q.NetProceeds)
	assertMoney(t, "50.00", q.ScheduledFees)
	assertMoney(t, "11850.00", q.ScheduleTotal)
	assert.True(t, q.ScheduleTotal.Equal(q.TotalRepayable))
}

func TestQuoteLoan_TermMonths(t *testing.T) {
	terms := baseTerms()
	terms.TermDays = 0
	terms.TermMonths = 6

	q, err := QuoteLoan(terms)
	require.NoError(t, err)
	assertMoney(t, "887.67", q.Interest) // 10000 * 18 * 180 / 36500
}

func TestQuoteLoan_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.LoanTerms)
	}{
		{"zero principal", func(t *models.LoanTerms) { t.Principal = dec("0") }},
		{"negative principal", func(t *models.LoanTerms) { t.Principal = dec("-10") }},
		{"sub-cent principal", func(t *models.LoanTerms) { t.Principal = dec("100.001") }},
		{"zero term", func(t *models.LoanTerms) { t.TermDays = 0 }},
		{"negative term", func(t *models.LoanTerms) { t.TermDays = -30 }},
		{"unknown frequency", func(t *models.LoanTerms) { t.PaymentFrequency = "fortnightly" }},
		{"negative rate", func(t *models.LoanTerms) { t.AnnualInterestRatePercent = dec("-1") }},
		{"negative fee", func(t *models.LoanTerms) { t.ProcessingFeePercent = dec("-1") }},
		{"negative platform fee", func(t *models.LoanTerms) { t.PlatformFee = dec("-1") }},
		{"negative grace", func(t *models.LoanTerms) { t.GracePeriodDays = -1 }},
		{"unknown penalty type", func(t *models.LoanTerms) { t.LatePenaltyType = "monthly_flat" }},
		{"unknown accrual", func(t *models.LoanTerms) { t.InterestAccrual = "weekly" }},
		{"fees swallow principal", func(t *models.LoanTerms) { t.PlatformFee = dec("9800") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := baseTerms()
			tt.mutate(&terms)
			_, err := QuoteLoan(terms)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestNormalizeTerms(t *testing.T) {
	terms := NormalizeTerms(models.LoanTerms{})
	assert.Equal(t, models.InterestTypeFlat, terms.InterestType)
	assert.Equal(t, models.PenaltyTypePercentPerDay, terms.LatePenaltyType)
	assert.Equal(t, models.AccrualUpfront, terms.InterestAccrual)
	assert.Equal(t, models.FeesDeducted, terms.FeeCollection)

	explicit := baseTerms()
	explicit.FeeCollection = models.FeesFinanced
	explicit.InterestType = models.InterestTypeCompound
	explicit.InterestAccrual = models.AccrualDaily
	assert.Equal(t, explicit, NormalizeTerms(explicit))
}
