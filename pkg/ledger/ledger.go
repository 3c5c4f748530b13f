package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/engine"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/mcclellann/lendengine/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrLoanClosed is returned when a payment is recorded against a loan that
// has been paid off.
var ErrLoanClosed = errors.New("loan is closed")

const defaultSweepConcurrency = 4

// Ledger handles the servicing of loans: disbursement, payments, reversals
// and penalties. It serializes all writes per loan.
type Ledger struct {
	storage          store.Storage
	logger           *zap.Logger
	order            []models.Bucket
	sweepConcurrency int
	now              func() time.Time
	locks            loanLocks
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAllocationOrder overrides the default payment waterfall.
func WithAllocationOrder(order []models.Bucket) Option {
	return func(l *Ledger) {
		l.order = order
	}
}

// WithSweepConcurrency limits how many loans the penalty sweep evaluates at once.
func WithSweepConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.sweepConcurrency = n
		}
	}
}

// WithClock replaces the clock used when callers pass a zero time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		storage:          s,
		logger:           logger,
		order:            engine.DefaultAllocationOrder,
		sweepConcurrency: defaultSweepConcurrency,
		now:              func() time.Time { return time.Now().UTC() },
		locks:            loanLocks{locks: make(map[uuid.UUID]*loanLock)},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// loanLocks hands out one mutex per loan. An entry lives only while some
// caller holds or waits on it.
type loanLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*loanLock
}

type loanLock struct {
	sync.Mutex
	refs int
}

func (k *loanLocks) lock(id uuid.UUID) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &loanLock{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// held reports how many loans currently have a lock entry.
func (k *loanLocks) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (l *Ledger) at(t time.Time) time.Time {
	if t.IsZero() {
		return l.now()
	}
	return t.UTC()
}

// Quote prices a loan and builds its schedule without storing anything.
func (l *Ledger) Quote(terms models.LoanTerms, disbursedAt time.Time) (engine.Quote, []models.Installment, error) {
	terms = engine.NormalizeTerms(terms)
	q, err := engine.QuoteLoan(terms)
	if err != nil {
		return engine.Quote{}, nil, err
	}
	schedule, err := engine.ScheduleFor(terms, q, l.at(disbursedAt))
	if err != nil {
		return engine.Quote{}, nil, err
	}
	return q, schedule, nil
}

// CreateLoan disburses a new loan for a customer and stores its schedule.
func (l *Ledger) CreateLoan(customerKey string, terms models.LoanTerms, disbursedAt time.Time) (*models.Loan, []models.Installment, error) {
	if customerKey == "" {
		return nil, nil, fmt.Errorf("%w: customer key is required", engine.ErrInvalidInput)
	}
	terms = engine.NormalizeTerms(terms)
	disbursedAt = l.at(disbursedAt)

	q, schedule, err := l.Quote(terms, disbursedAt)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	loan := &models.Loan{
		ID:             uuid.New(),
		CustomerKey:    customerKey,
		Terms:          terms,
		TotalInterest:  q.Interest,
		ProcessingFee:  q.ProcessingFee,
		NetProceeds:    q.NetProceeds,
		TotalScheduled: q.ScheduleTotal,
		Status:         models.LoanStatusActive,
		DisbursedAt:    disbursedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range schedule {
		schedule[i].ID = uuid.New()
		schedule[i].LoanID = loan.ID
	}

	if err := l.storage.CreateLoan(loan, schedule); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("disbursed loan",
		zap.String("op", "ledger.CreateLoan"),
		zap.String("loan_id", loan.ID.String()),
		zap.String("principal", terms.Principal.StringFixed(2)),
		zap.String("net_proceeds", loan.NetProceeds.StringFixed(2)),
		zap.Int("installments", len(schedule)),
	)
	return loan, schedule, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// DeleteLoan deletes a loan and its history.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	unlock := l.locks.lock(id)
	defer unlock()

	if err := l.storage.DeleteLoan(id); err != nil {
		return err
	}
	l.logger.Info("deleted loan",
		zap.String("op", "ledger.DeleteLoan"),
		zap.String("loan_id", id.String()),
	)
	return nil
}

// loadState reads everything the engine needs about a loan. Callers that
// write must hold the loan's lock.
func (l *Ledger) loadState(loanID uuid.UUID) (*models.Loan, engine.LoanState, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, engine.LoanState{}, err
	}
	schedule, err := l.storage.GetInstallments(loanID)
	if err != nil {
		return nil, engine.LoanState{}, err
	}
	payments, err := l.storage.GetPaymentsForLoan(loanID)
	if err != nil {
		return nil, engine.LoanState{}, err
	}
	allocations, err := l.storage.GetAllocationsForLoan(loanID)
	if err != nil {
		return nil, engine.LoanState{}, err
	}
	penalties, err := l.storage.GetPenaltiesForLoan(loanID)
	if err != nil {
		return nil, engine.LoanState{}, err
	}

	return loan, engine.LoanState{
		Terms:       loan.Terms,
		DisbursedAt: loan.DisbursedAt,
		Schedule:    schedule,
		Payments:    payments,
		Allocations: allocations,
		Penalties:   penalties,
	}, nil
}

// GetSchedule returns a loan's schedule with statuses derived as of today.
func (l *Ledger) GetSchedule(loanID uuid.UUID, today time.Time) ([]models.Installment, error) {
	_, state, err := l.loadState(loanID)
	if err != nil {
		return nil, err
	}
	return state.Installments(l.at(today)), nil
}

// GetBalance returns the outstanding balance of a loan as of today.
func (l *Ledger) GetBalance(loanID uuid.UUID, today time.Time) (models.BalanceSnapshot, error) {
	_, state, err := l.loadState(loanID)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	return engine.Snapshot(state, l.at(today))
}

// RecordPayment allocates a payment across the loan's outstanding buckets
// and stores the payment with its allocations. A loan whose balance reaches
// zero is closed.
func (l *Ledger) RecordPayment(loanID uuid.UUID, amount decimal.Decimal, method string, at time.Time) (*models.Payment, []models.Allocation, error) {
	unlock := l.locks.lock(loanID)
	defer unlock()

	loan, state, err := l.loadState(loanID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrLoanClosed, loanID)
	}

	at = l.at(at)
	snap, err := engine.Snapshot(state, at)
	if err != nil {
		return nil, nil, err
	}

	payment := &models.Payment{
		ID:        uuid.New(),
		LoanID:    loanID,
		Amount:    amount,
		Method:    method,
		Timestamp: at,
		Status:    models.PaymentCompleted,
	}
	allocations, err := engine.Allocate(payment.ID, amount, snap, l.order...)
	if err != nil {
		return nil, nil, err
	}

	if err := l.storage.CreatePayment(payment, allocations); err != nil {
		return nil, nil, fmt.Errorf("failed to store payment: %w", err)
	}

	state.Payments = append(state.Payments, *payment)
	state.Allocations = append(state.Allocations, allocations...)
	// The payment is stored. Progress is recomputed from it on the next write.
	if err := l.settle(loan, state, at); err != nil {
		l.logger.Error("failed to settle loan after payment",
			zap.String("op", "ledger.RecordPayment"),
			zap.String("loan_id", loanID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}

	l.logger.Info("recorded payment",
		zap.String("op", "ledger.RecordPayment"),
		zap.String("loan_id", loanID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.Int("allocations", len(allocations)),
	)
	return payment, allocations, nil
}

// ReversePayment reverses a completed payment. Its allocations stop counting
// towards the balance and a closed loan is reopened if money is owed again.
func (l *Ledger) ReversePayment(paymentID uuid.UUID, reason string, at time.Time) (*models.PaymentReversal, error) {
	payment, err := l.storage.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(payment.LoanID)
	defer unlock()

	loan, state, err := l.loadState(payment.LoanID)
	if err != nil {
		return nil, err
	}
	for i, p := range state.Payments {
		if p.ID != paymentID {
			continue
		}
		if p.Status == models.PaymentReversed {
			return nil, store.ErrAlreadyReversed
		}
		state.Payments[i].Status = models.PaymentReversed
	}

	at = l.at(at)
	reversal := &models.PaymentReversal{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Reason:    reason,
		Timestamp: at,
	}
	if err := l.storage.CreateReversal(reversal); err != nil {
		return nil, err
	}

	if err := l.settle(loan, state, at); err != nil {
		l.logger.Error("failed to settle loan after reversal",
			zap.String("op", "ledger.ReversePayment"),
			zap.String("loan_id", payment.LoanID.String()),
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)
	}

	l.logger.Info("reversed payment",
		zap.String("op", "ledger.ReversePayment"),
		zap.String("loan_id", payment.LoanID.String()),
		zap.String("payment_id", paymentID.String()),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("reason", reason),
	)
	return reversal, nil
}

// settle stores the installment progress implied by state and moves the loan
// between active and closed as its balance requires.
func (l *Ledger) settle(loan *models.Loan, state engine.LoanState, at time.Time) error {
	if err := l.storage.UpdateInstallmentProgress(state.Installments(at)); err != nil {
		return fmt.Errorf("failed to update installments: %w", err)
	}

	snap, err := engine.Snapshot(state, at)
	if err != nil {
		return err
	}

	status := models.LoanStatusActive
	if snap.TotalOutstanding.IsZero() {
		status = models.LoanStatusClosed
	}
	if status == loan.Status {
		return nil
	}
	if err := l.storage.UpdateLoanStatus(loan.ID, status); err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	loan.Status = status

	l.logger.Info("loan status changed",
		zap.String("op", "ledger.settle"),
		zap.String("loan_id", loan.ID.String()),
		zap.String("status", string(status)),
	)
	return nil
}

// GetPenalties returns every penalty recorded against a loan.
func (l *Ledger) GetPenalties(loanID uuid.UUID) ([]models.Penalty, error) {
	if _, err := l.storage.GetLoan(loanID); err != nil {
		return nil, err
	}
	return l.storage.GetPenaltiesForLoan(loanID)
}

// WaivePenalty waives a penalty. Waiving an already waived penalty is a no-op.
func (l *Ledger) WaivePenalty(id uuid.UUID) (*models.Penalty, error) {
	penalty, err := l.storage.GetPenalty(id)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(penalty.LoanID)
	defer unlock()

	// Re-read under the lock; a sweep may have re-priced it.
	penalty, err = l.storage.GetPenalty(id)
	if err != nil {
		return nil, err
	}
	if penalty.Status == models.PenaltyWaived {
		return penalty, nil
	}

	penalty.Status = models.PenaltyWaived
	if err := l.storage.SavePenalty(penalty); err != nil {
		return nil, fmt.Errorf("failed to waive penalty: %w", err)
	}

	// The waived amount may have been all that was left.
	loan, state, err := l.loadState(penalty.LoanID)
	if err == nil {
		err = l.settle(loan, state, l.now())
	}
	if err != nil {
		l.logger.Error("failed to settle loan after waiver",
			zap.String("op", "ledger.WaivePenalty"),
			zap.String("loan_id", penalty.LoanID.String()),
			zap.String("penalty_id", id.String()),
			zap.Error(err),
		)
	}

	l.logger.Info("waived penalty",
		zap.String("op", "ledger.WaivePenalty"),
		zap.String("loan_id", penalty.LoanID.String()),
		zap.String("penalty_id", id.String()),
		zap.String("amount", penalty.Amount.StringFixed(2)),
	)
	return penalty, nil
}
