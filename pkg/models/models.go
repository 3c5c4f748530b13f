package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestType string

const (
	InterestTypeFlat     InterestType = "flat"
	InterestTypeReducing InterestType = "reducing"
	InterestTypeCompound InterestType = "compound"
)

type PaymentFrequency string

const (
	FrequencyDaily   PaymentFrequency = "daily"
	FrequencyWeekly  PaymentFrequency = "weekly"
	FrequencyMonthly PaymentFrequency = "monthly"
)

type PenaltyType string

const (
	PenaltyTypePercentPerDay PenaltyType = "percent_per_day"
	PenaltyTypeFixedPerDay   PenaltyType = "fixed_per_day"
)

// InterestAccrual records whether a loan owes its full interest from day one
// or accrues it over elapsed days.
type InterestAccrual string

const (
	AccrualUpfront InterestAccrual = "upfront"
	AccrualDaily   InterestAccrual = "daily"
)

// FeeCollection records whether fees are withheld from the disbursement or
// repaid through the schedule.
type FeeCollection string

const (
	FeesDeducted FeeCollection = "deducted"
	FeesFinanced FeeCollection = "financed"
)

// LoanTerms are fixed at disbursement.
type LoanTerms struct {
	Principal                 decimal.Decimal  `json:"principal"`
	AnnualInterestRatePercent decimal.Decimal  `json:"annual_interest_rate_percent"`
	TermDays                  int              `json:"term_days,omitempty"`
	TermMonths                int              `json:"term_months,omitempty"` // Used when TermDays is zero; 30 days each
	InterestType              InterestType     `json:"interest_type"`
	PaymentFrequency          PaymentFrequency `json:"payment_frequency"`
	ProcessingFeePercent      decimal.Decimal  `json:"processing_fee_percent"`
	PlatformFee               decimal.Decimal  `json:"platform_fee"`
	LatePenaltyType           PenaltyType      `json:"late_penalty_type"`
	LatePenaltyValue          decimal.Decimal  `json:"late_penalty_value"` // Percent per day, or amount per day for fixed penalties
	GracePeriodDays           int              `json:"grace_period_days"`
	MaxPenaltyPercent         decimal.Decimal  `json:"max_penalty_percent"` // Cap on the cumulative penalty per installment
	InterestAccrual           InterestAccrual  `json:"interest_accrual"`
	FeeCollection             FeeCollection    `json:"fee_collection"`
}

// EffectiveTermDays resolves the loan term in days.
func (t LoanTerms) EffectiveTermDays() int {
	if t.TermDays > 0 {
		return t.TermDays
	}
	return t.TermMonths * 30
}

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusClosed LoanStatus = "closed"
)

type Loan struct {
	ID             uuid.UUID       `json:"id"`
	CustomerKey    string          `json:"customer_key"` // Link to external customer system
	Terms          LoanTerms       `json:"terms"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	ProcessingFee  decimal.Decimal `json:"processing_fee"`
	NetProceeds    decimal.Decimal `json:"net_proceeds"`
	TotalScheduled decimal.Decimal `json:"total_scheduled"`
	Status         LoanStatus      `json:"status"`
	DisbursedAt    time.Time       `json:"disbursed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

type Installment struct {
	ID           uuid.UUID         `json:"id"`
	LoanID       uuid.UUID         `json:"loan_id"`
	Number       int               `json:"installment_number"`
	DueDate      time.Time         `json:"due_date"`
	PrincipalDue decimal.Decimal   `json:"principal_due"`
	InterestDue  decimal.Decimal   `json:"interest_due"`
	FeeDue       decimal.Decimal   `json:"fee_due"`
	TotalDue     decimal.Decimal   `json:"total_due"`
	AmountPaid   decimal.Decimal   `json:"amount_paid"`
	Status       InstallmentStatus `json:"status"`
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentReversed  PaymentStatus = "reversed"
)

type Payment struct {
	ID        uuid.UUID       `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Timestamp time.Time       `json:"timestamp"`
	Status    PaymentStatus   `json:"status"`
}

// PaymentReversal is the event that turns a completed payment into a reversed one.
type PaymentReversal struct {
	ID        uuid.UUID `json:"id"`
	PaymentID uuid.UUID `json:"payment_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type Bucket string

const (
	BucketPenalty   Bucket = "penalty"
	BucketFee       Bucket = "fee"
	BucketInterest  Bucket = "interest"
	BucketPrincipal Bucket = "principal"
)

type Allocation struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	Bucket    Bucket          `json:"bucket"`
	Amount    decimal.Decimal `json:"amount"`
}

type PenaltyStatus string

const (
	PenaltyActive PenaltyStatus = "active"
	PenaltyWaived PenaltyStatus = "waived"
)

type Penalty struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	InstallmentID uuid.UUID       `json:"installment_id"`
	Amount        decimal.Decimal `json:"amount"`
	DaysOverdue   int             `json:"days_overdue"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        PenaltyStatus   `json:"status"`
}

// BalanceSnapshot is derived on demand and never persisted.
type BalanceSnapshot struct {
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	OutstandingInterest  decimal.Decimal `json:"outstanding_interest"`
	OutstandingFees      decimal.Decimal `json:"outstanding_fees"`
	OutstandingPenalties decimal.Decimal `json:"outstanding_penalties"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
}

// Bucket returns the outstanding amount of one bucket.
func (b BalanceSnapshot) Bucket(name Bucket) decimal.Decimal {
	switch name {
	case BucketPenalty:
		return b.OutstandingPenalties
	case BucketFee:
		return b.OutstandingFees
	case BucketInterest:
		return b.OutstandingInterest
	case BucketPrincipal:
		return b.OutstandingPrincipal
	}
	return decimal.Zero
}
