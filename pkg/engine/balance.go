package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/shopspring/decimal"
)

// LoanState is everything recorded about a loan that its balance depends on.
type LoanState struct {
	Terms       models.LoanTerms
	DisbursedAt time.Time
	Schedule    []models.Installment
	Payments    []models.Payment
	Allocations []models.Allocation
	Penalties   []models.Penalty
}

// PaidByBucket sums the allocations of completed payments per bucket.
// Allocations of reversed or unknown payments are ignored.
func (s LoanState) PaidByBucket() map[models.Bucket]decimal.Decimal {
	completed := make(map[uuid.UUID]bool, len(s.Payments))
	for _, p := range s.Payments {
		if p.Status == models.PaymentCompleted {
			completed[p.ID] = true
		}
	}

	paid := map[models.Bucket]decimal.Decimal{
		models.BucketPenalty:   decimal.Zero,
		models.BucketFee:       decimal.Zero,
		models.BucketInterest:  decimal.Zero,
		models.BucketPrincipal: decimal.Zero,
	}
	for _, a := range s.Allocations {
		if !completed[a.PaymentID] {
			continue
		}
		paid[a.Bucket] = paid[a.Bucket].Add(a.Amount)
	}
	return paid
}

// AppliedToSchedule is the part of completed payments that went to
// scheduled amounts, i.e. everything except penalties.
func (s LoanState) AppliedToSchedule() decimal.Decimal {
	paid := s.PaidByBucket()
	return paid[models.BucketFee].Add(paid[models.BucketInterest]).Add(paid[models.BucketPrincipal])
}

// PrincipalRepaidAt reports when completed payments last touched principal,
// provided they have repaid all of it. Daily accrual stops on that day.
func (s LoanState) PrincipalRepaidAt() (time.Time, bool) {
	if s.PaidByBucket()[models.BucketPrincipal].LessThan(s.Terms.Principal) {
		return time.Time{}, false
	}

	touched := make(map[uuid.UUID]bool)
	for _, a := range s.Allocations {
		if a.Bucket == models.BucketPrincipal && a.Amount.IsPositive() {
			touched[a.PaymentID] = true
		}
	}
	var last time.Time
	for _, p := range s.Payments {
		if p.Status == models.PaymentCompleted && touched[p.ID] && p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	return last, !last.IsZero()
}

// Installments returns the schedule with statuses derived as of today.
func (s LoanState) Installments(today time.Time) []models.Installment {
	return InstallmentStatuses(s.Schedule, s.AppliedToSchedule(), today)
}

// Snapshot derives the outstanding balance per bucket as of today. The
// result depends only on its inputs.
func Snapshot(state LoanState, today time.Time) (models.BalanceSnapshot, error) {
	if err := ValidateTerms(state.Terms); err != nil {
		return models.BalanceSnapshot{}, err
	}

	var scheduledInterest, scheduledFees decimal.Decimal
	for _, inst := range state.Schedule {
		scheduledInterest = scheduledInterest.Add(inst.InterestDue)
		scheduledFees = scheduledFees.Add(inst.FeeDue)
	}

	accrued := scheduledInterest
	if state.Terms.InterestAccrual == models.AccrualDaily {
		end := today
		if repaid, ok := state.PrincipalRepaidAt(); ok && repaid.Before(end) {
			end = repaid
		}
		elapsed := DaysBetween(state.DisbursedAt, end)
		accrued = decimal.Min(AccruedInterest(state.Terms, elapsed), scheduledInterest)
	}

	var penalties decimal.Decimal
	for _, p := range state.Penalties {
		if p.Status == models.PenaltyActive {
			penalties = penalties.Add(p.Amount)
		}
	}

	paid := state.PaidByBucket()
	snap := models.BalanceSnapshot{
		OutstandingPrincipal: RoundMoney(nonNegative(state.Terms.Principal.Sub(paid[models.BucketPrincipal]))),
		OutstandingInterest:  RoundMoney(nonNegative(accrued.Sub(paid[models.BucketInterest]))),
		OutstandingFees:      RoundMoney(nonNegative(scheduledFees.Sub(paid[models.BucketFee]))),
		OutstandingPenalties: RoundMoney(nonNegative(penalties.Sub(paid[models.BucketPenalty]))),
	}
	snap.TotalOutstanding = snap.OutstandingPrincipal.
		Add(snap.OutstandingInterest).
		Add(snap.OutstandingFees).
		Add(snap.OutstandingPenalties)
	return snap, nil
}
