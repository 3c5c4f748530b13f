package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/models"
)

// Lookup failures. Wrapped errors keep these identities.
var (
	ErrLoanNotFound    = errors.New("loan not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPenaltyNotFound = errors.New("penalty not found")
	ErrAlreadyReversed = errors.New("payment already reversed")
)

// Storage defines the interface for database operations related to loans,
// their schedules, payments, allocations and penalties.
type Storage interface {
	// CreateLoan stores a loan together with its repayment schedule.
	CreateLoan(loan *models.Loan, schedule []models.Installment) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoanStatus(id uuid.UUID, status models.LoanStatus) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetAllActiveLoans() ([]*models.Loan, error)

	GetInstallments(loanID uuid.UUID) ([]models.Installment, error)
	// UpdateInstallmentProgress writes AmountPaid and Status only.
	UpdateInstallmentProgress(installments []models.Installment) error

	// CreatePayment stores a payment and its allocations atomically.
	CreatePayment(payment *models.Payment, allocations []models.Allocation) error
	GetPayment(id uuid.UUID) (*models.Payment, error)
	GetPaymentsForLoan(loanID uuid.UUID) ([]models.Payment, error)
	GetAllocationsForLoan(loanID uuid.UUID) ([]models.Allocation, error)
	CreateReversal(reversal *models.PaymentReversal) error

	// SavePenalty inserts the penalty or replaces the record with the same ID.
	SavePenalty(penalty *models.Penalty) error
	GetPenalty(id uuid.UUID) (*models.Penalty, error)
	GetPenaltiesForLoan(loanID uuid.UUID) ([]models.Penalty, error)

	Close() error
}
