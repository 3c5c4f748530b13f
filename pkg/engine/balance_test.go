package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(t *testing.T, terms models.LoanTerms) LoanState {
	t.Helper()
	q, err := QuoteLoan(terms)
	require.NoError(t, err)
	schedule, err := ScheduleFor(terms, q, disbursed)
	require.NoError(t, err)
	return LoanState{Terms: terms, DisbursedAt: disbursed, Schedule: schedule}
}

// pay allocates a payment against the current snapshot and records it in the state.
func pay(t *testing.T, state *LoanState, amount string, today time.Time) []models.Allocation {
	t.Helper()
	snap, err := Snapshot(*state, today)
	require.NoError(t, err)

	payment := models.Payment{ID: uuid.New(), Amount: dec(amount), Timestamp: today, Status: models.PaymentCompleted}
	allocs, err := Allocate(payment.ID, payment.Amount, snap)
	require.NoError(t, err)

	state.Payments = append(state.Payments, payment)
	state.Allocations = append(state.Allocations, allocs...)
	return allocs
}

func assertSnapshot(t *testing.T, s models.BalanceSnapshot, principal, interest, fees, penalties string) {
	t.Helper()
	assertMoney(t, principal, s.OutstandingPrincipal, "principal")
	assertMoney(t, interest, s.OutstandingInterest, "interest")
	assertMoney(t, fees, s.OutstandingFees, "fees")
	assertMoney(t, penalties, s.OutstandingPenalties, "penalties")
	assert.True(t, s.TotalOutstanding.Equal(s.OutstandingPrincipal.Add(s.OutstandingInterest).Add(s.OutstandingFees).Add(s.OutstandingPenalties)))
}

func TestSnapshot_AtDisbursement(t *testing.T) {
	state := newState(t, baseTerms())

	snap, err := Snapshot(state, disbursed)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "1800", "0", "0")
	assertMoney(t, "11800", snap.TotalOutstanding)
}

func TestSnapshot_UsesAllocationRecords(t *testing.T) {
	state := newState(t, baseTerms())
	today := disbursed.AddDate(0, 0, 31)

	pay(t, &state, "1000", today)
	snap, err := Snapshot(state, today)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "800", "0", "0")

	pay(t, &state, "1000", today)
	snap, err = Snapshot(state, today)
	require.NoError(t, err)
	assertSnapshot(t, snap, "9800", "0", "0", "0")
}

func TestSnapshot_IgnoresReversedPayments(t *testing.T) {
	state := newState(t, baseTerms())
	pay(t, &state, "1000", disbursed)
	state.Payments[0].Status = models.PaymentReversed

	snap, err := Snapshot(state, disbursed)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "1800", "0", "0")
	assertMoney(t, "0", state.AppliedToSchedule())
}

func TestSnapshot_DailyAccrual(t *testing.T) {
	terms := baseTerms()
	terms.InterestAccrual = models.AccrualDaily
	state := newState(t, terms)

	snap, err := Snapshot(state, disbursed)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "0", "0", "0")

	day73 := disbursed.AddDate(0, 0, 73)
	snap, err = Snapshot(state, day73)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "360", "0", "0")

	allocs := pay(t, &state, "400", day73)
	require.Len(t, allocs, 2)
	assertMoney(t, "360", allocs[0].Amount)
	assertMoney(t, "40", allocs[1].Amount)

	snap, err = Snapshot(state, disbursed.AddDate(0, 0, 1000))
	require.NoError(t, err)
	assertSnapshot(t, snap, "9960", "1440", "0", "0")
}

func TestSnapshot_DailyAccrualStopsAtPayoff(t *testing.T) {
	terms := baseTerms()
	terms.InterestAccrual = models.AccrualDaily
	state := newState(t, terms)

	day10 := disbursed.AddDate(0, 0, 10)
	snap, err := Snapshot(state, day10)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "49.32", "0", "0")

	pay(t, &state, "10049.32", day10)
	repaid, ok := state.PrincipalRepaidAt()
	require.True(t, ok)
	assert.Equal(t, day10, repaid)

	for _, later := range []time.Time{day10, disbursed.AddDate(0, 0, 60), disbursed.AddDate(0, 0, 400)} {
		snap, err = Snapshot(state, later)
		require.NoError(t, err)
		assertSnapshot(t, snap, "0", "0", "0", "0")
		assert.True(t, snap.TotalOutstanding.IsZero())
	}
}

func TestLoanState_PrincipalRepaidAt(t *testing.T) {
	state := newState(t, baseTerms())
	_, ok := state.PrincipalRepaidAt()
	assert.False(t, ok)

	// Interest only leaves principal untouched.
	pay(t, &state, "1800", disbursed.AddDate(0, 0, 5))
	_, ok = state.PrincipalRepaidAt()
	assert.False(t, ok)

	pay(t, &state, "6000", disbursed.AddDate(0, 0, 20))
	pay(t, &state, "4000", disbursed.AddDate(0, 0, 30))
	repaid, ok := state.PrincipalRepaidAt()
	require.True(t, ok)
	assert.Equal(t, disbursed.AddDate(0, 0, 30), repaid)

	state.Payments[2].Status = models.PaymentReversed
	_, ok = state.PrincipalRepaidAt()
	assert.False(t, ok)
}

func TestSnapshot_FinancedFeesAndPenalties(t *testing.T) {
	terms := baseTerms()
	terms.FeeCollection = models.FeesFinanced
	state := newState(t, terms)

	state.Penalties = []models.Penalty{
		{ID: uuid.New(), Amount: dec("50"), Status: models.PenaltyActive},
		{ID: uuid.New(), Amount: dec("20"), Status: models.PenaltyWaived},
	}
	snap, err := Snapshot(state, disbursed)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "1800", "50", "50")

	allocs := pay(t, &state, "80", disbursed)
	require.Len(t, allocs, 2)
	assert.Equal(t, models.BucketPenalty, allocs[0].Bucket)
	assert.Equal(t, models.BucketFee, allocs[1].Bucket)

	snap, err = Snapshot(state, disbursed)
	require.NoError(t, err)
	assertSnapshot(t, snap, "10000", "1800", "20", "0")
}

func TestSnapshot_Idempotent(t *testing.T) {
	state := newState(t, baseTerms())
	state.Penalties = []models.Penalty{{ID: uuid.New(), Amount: dec("12.34"), Status: models.PenaltyActive}}
	pay(t, &state, "500.55", disbursed)
	pay(t, &state, "1234.56", disbursed)

	today := disbursed.AddDate(0, 0, 90)
	first, err := Snapshot(state, today)
	require.NoError(t, err)
	second, err := Snapshot(state, today)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshot_MonotonicUntilPenalty(t *testing.T) {
	state := newState(t, baseTerms())
	today := disbursed.AddDate(0, 0, 45)

	previous, err := Snapshot(state, today)
	require.NoError(t, err)
	for _, amount := range []string{"100", "0.01", "2500", "999.99", "4000"} {
		pay(t, &state, amount, today)
		current, err := Snapshot(state, today)
		require.NoError(t, err)
		assert.True(t, current.TotalOutstanding.LessThanOrEqual(previous.TotalOutstanding))
		previous = current
	}

	state.Penalties = append(state.Penalties, models.Penalty{ID: uuid.New(), Amount: dec("25"), Status: models.PenaltyActive})
	withPenalty, err := Snapshot(state, today)
	require.NoError(t, err)
	assert.True(t, withPenalty.TotalOutstanding.Equal(previous.TotalOutstanding.Add(dec("25"))))

	// Pay off everything that is left.
	pay(t, &state, withPenalty.TotalOutstanding.String(), today)
	final, err := Snapshot(state, today)
	require.NoError(t, err)
	assertMoney(t, "0", final.TotalOutstanding)
}

func TestLoanState_Installments(t *testing.T) {
	state := newState(t, baseTerms())
	pay(t, &state, "1000", disbursed)

	got := state.Installments(disbursed.AddDate(0, 0, 65))
	assert.Equal(t, models.InstallmentPaid, got[0].Status)
	assert.Equal(t, models.InstallmentPartial, got[1].Status)
	assertMoney(t, "92.31", got[1].AmountPaid)
	assert.Equal(t, models.InstallmentPending, got[2].Status)
}
