package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// Pragmas are per connection and SQLite has a single writer.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't already exist and adds new columns if necessary.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_interest_rate_percent TEXT NOT NULL,
		term_days INTEGER NOT NULL DEFAULT 0,
		term_months INTEGER NOT NULL DEFAULT 0,
		interest_type TEXT NOT NULL,
		payment_frequency TEXT NOT NULL,
		processing_fee_percent TEXT NOT NULL DEFAULT '0',
		platform_fee TEXT NOT NULL DEFAULT '0',
		late_penalty_type TEXT NOT NULL DEFAULT 'percent_per_day',
		late_penalty_value TEXT NOT NULL DEFAULT '0',
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		max_penalty_percent TEXT NOT NULL DEFAULT '0',
		total_interest TEXT NOT NULL,
		processing_fee TEXT NOT NULL,
		net_proceeds TEXT NOT NULL,
		total_scheduled TEXT NOT NULL,
		status TEXT NOT NULL,
		disbursed_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		principal_due TEXT NOT NULL,
		interest_due TEXT NOT NULL,
		fee_due TEXT NOT NULL DEFAULT '0',
		total_due TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		UNIQUE(loan_id, number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS allocations (
		payment_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		bucket TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY(payment_id, bucket),
		FOREIGN KEY(payment_id) REFERENCES payments(id)
	);
	CREATE TABLE IF NOT EXISTS payment_reversals (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(payment_id) REFERENCES payments(id)
	);
	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		days_overdue INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Conventions added after the first schema; older databases get the defaults.
	columns := []string{
		"interest_accrual TEXT NOT NULL DEFAULT 'upfront'",
		"fee_collection TEXT NOT NULL DEFAULT 'deducted'",
	}

	for _, col := range columns {
		_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE loans ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error indicates a duplicate column.
func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

type rowScanner interface {
	Scan(dest ...any) error
}

const loanColumns = `id, customer_key, principal, annual_interest_rate_percent, term_days, term_months, interest_type, payment_frequency,
	processing_fee_percent, platform_fee, late_penalty_type, late_penalty_value, grace_period_days, max_penalty_percent,
	interest_accrual, fee_collection, total_interest, processing_fee, net_proceeds, total_scheduled, status, disbursed_at, created_at, updated_at`

// CreateLoan inserts a new loan and its schedule within a transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan, schedule []models.Installment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t := loan.Terms
	_, err = tx.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, t.Principal, t.AnnualInterestRatePercent, t.TermDays, t.TermMonths, t.InterestType, t.PaymentFrequency,
		t.ProcessingFeePercent, t.PlatformFee, t.LatePenaltyType, t.LatePenaltyValue, t.GracePeriodDays, t.MaxPenaltyPercent,
		t.InterestAccrual, t.FeeCollection, loan.TotalInterest, loan.ProcessingFee, loan.NetProceeds, loan.TotalScheduled,
		loan.Status, loan.DisbursedAt, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for _, inst := range schedule {
		_, err = tx.Exec(
			`INSERT INTO installments (id, loan_id, number, due_date, principal_due, interest_due, fee_due, total_due, amount_paid, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID.String(), loan.ID.String(), inst.Number, inst.DueDate, inst.PrincipalDue, inst.InterestDue, inst.FeeDue, inst.TotalDue, inst.AmountPaid, inst.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Number, err)
		}
	}

	return tx.Commit()
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr string
	t := &loan.Terms
	err := row.Scan(&loanIDStr, &loan.CustomerKey, &t.Principal, &t.AnnualInterestRatePercent, &t.TermDays, &t.TermMonths, &t.InterestType, &t.PaymentFrequency,
		&t.ProcessingFeePercent, &t.PlatformFee, &t.LatePenaltyType, &t.LatePenaltyValue, &t.GracePeriodDays, &t.MaxPenaltyPercent,
		&t.InterestAccrual, &t.FeeCollection, &loan.TotalInterest, &loan.ProcessingFee, &loan.NetProceeds, &loan.TotalScheduled,
		&loan.Status, &loan.DisbursedAt, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(loanIDStr)
	return &loan, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoanStatus changes the lifecycle status of a loan. Terms are never updated.
func (s *SQLiteStore) UpdateLoanStatus(id uuid.UUID, status models.LoanStatus) error {
	result, err := s.db.Exec(`UPDATE loans SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// DeleteLoan removes a loan and everything recorded against it within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cleanup := []struct {
		what  string
		query string
	}{
		{"allocations", `DELETE FROM allocations WHERE payment_id IN (SELECT id FROM payments WHERE loan_id = ?)`},
		{"reversals", `DELETE FROM payment_reversals WHERE payment_id IN (SELECT id FROM payments WHERE loan_id = ?)`},
		{"payments", `DELETE FROM payments WHERE loan_id = ?`},
		{"penalties", `DELETE FROM penalties WHERE loan_id = ?`},
		{"installments", `DELETE FROM installments WHERE loan_id = ?`},
	}
	for _, c := range cleanup {
		if _, err := tx.Exec(c.query, id.String()); err != nil {
			return fmt.Errorf("failed to delete associated %s: %w", c.what, err)
		}
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return s.scanLoans(rows)
}

// GetAllActiveLoans retrieves all active loans.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at ASC`, models.LoanStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get all active loans: %w", err)
	}
	defer rows.Close()

	return s.scanLoans(rows)
}

func (s *SQLiteStore) scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// GetInstallments retrieves a loan's schedule in installment order.
func (s *SQLiteStore) GetInstallments(loanID uuid.UUID) ([]models.Installment, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, number, due_date, principal_due, interest_due, fee_due, total_due, amount_paid, status
		FROM installments WHERE loan_id = ? ORDER BY number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var installments []models.Installment
	for rows.Next() {
		var inst models.Installment
		var idStr, loanIDStr string
		if err := rows.Scan(&idStr, &loanIDStr, &inst.Number, &inst.DueDate, &inst.PrincipalDue, &inst.InterestDue, &inst.FeeDue, &inst.TotalDue, &inst.AmountPaid, &inst.Status); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		inst.ID = uuid.MustParse(idStr)
		inst.LoanID = uuid.MustParse(loanIDStr)
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

// UpdateInstallmentProgress records how far payments have covered each installment.
func (s *SQLiteStore) UpdateInstallmentProgress(installments []models.Installment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, inst := range installments {
		_, err := tx.Exec(`UPDATE installments SET amount_paid = ?, status = ? WHERE id = ?`, inst.AmountPaid, inst.Status, inst.ID.String())
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", inst.Number, err)
		}
	}
	return tx.Commit()
}

// CreatePayment inserts a payment and its allocations within a transaction.
func (s *SQLiteStore) CreatePayment(payment *models.Payment, allocations []models.Allocation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO payments (id, loan_id, amount, method, timestamp) VALUES (?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.LoanID.String(), payment.Amount, payment.Method, payment.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	for i, a := range allocations {
		_, err = tx.Exec(
			`INSERT INTO allocations (payment_id, seq, bucket, amount) VALUES (?, ?, ?, ?)`,
			payment.ID.String(), i, a.Bucket, a.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to create %s allocation: %w", a.Bucket, err)
		}
	}

	return tx.Commit()
}

const paymentSelect = `SELECT p.id, p.loan_id, p.amount, p.method, p.timestamp,
	CASE WHEN r.id IS NULL THEN 'completed' ELSE 'reversed' END
	FROM payments p LEFT JOIN payment_reversals r ON r.payment_id = p.id`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var payment models.Payment
	var idStr, loanIDStr string
	if err := row.Scan(&idStr, &loanIDStr, &payment.Amount, &payment.Method, &payment.Timestamp, &payment.Status); err != nil {
		return nil, err
	}
	payment.ID = uuid.MustParse(idStr)
	payment.LoanID = uuid.MustParse(loanIDStr)
	return &payment, nil
}

// GetPayment retrieves a payment by its ID, with its status derived from reversals.
func (s *SQLiteStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	payment, err := scanPayment(s.db.QueryRow(paymentSelect+` WHERE p.id = ?`, id.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// GetPaymentsForLoan retrieves all payments for a given loan ID, oldest first.
func (s *SQLiteStore) GetPaymentsForLoan(loanID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.db.Query(paymentSelect+` WHERE p.loan_id = ? ORDER BY p.timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, *payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// GetAllocationsForLoan retrieves the allocation records of every payment on a loan.
func (s *SQLiteStore) GetAllocationsForLoan(loanID uuid.UUID) ([]models.Allocation, error) {
	rows, err := s.db.Query(
		`SELECT a.payment_id, a.bucket, a.amount FROM allocations a
		JOIN payments p ON p.id = a.payment_id
		WHERE p.loan_id = ? ORDER BY p.timestamp ASC, a.seq ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get allocations for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var allocations []models.Allocation
	for rows.Next() {
		var a models.Allocation
		var paymentIDStr string
		if err := rows.Scan(&paymentIDStr, &a.Bucket, &a.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocation row: %w", err)
		}
		a.PaymentID = uuid.MustParse(paymentIDStr)
		allocations = append(allocations, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for allocations: %w", err)
	}
	return allocations, nil
}

// CreateReversal records a reversal event. A payment can be reversed once.
func (s *SQLiteStore) CreateReversal(reversal *models.PaymentReversal) error {
	_, err := s.db.Exec(
		`INSERT INTO payment_reversals (id, payment_id, reason, timestamp) VALUES (?, ?, ?, ?)`,
		reversal.ID.String(), reversal.PaymentID.String(), reversal.Reason, reversal.Timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyReversed
		}
		return fmt.Errorf("failed to create reversal: %w", err)
	}
	return nil
}

// SavePenalty inserts or replaces a penalty record.
func (s *SQLiteStore) SavePenalty(penalty *models.Penalty) error {
	_, err := s.db.Exec(
		`INSERT INTO penalties (id, loan_id, installment_id, amount, days_overdue, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET amount = excluded.amount, days_overdue = excluded.days_overdue, status = excluded.status`,
		penalty.ID.String(), penalty.LoanID.String(), penalty.InstallmentID.String(), penalty.Amount, penalty.DaysOverdue, penalty.CreatedAt, penalty.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save penalty: %w", err)
	}
	return nil
}

const penaltySelect = `SELECT id, loan_id, installment_id, amount, days_overdue, created_at, status FROM penalties`

func scanPenalty(row rowScanner) (*models.Penalty, error) {
	var p models.Penalty
	var idStr, loanIDStr, installmentIDStr string
	if err := row.Scan(&idStr, &loanIDStr, &installmentIDStr, &p.Amount, &p.DaysOverdue, &p.CreatedAt, &p.Status); err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanIDStr)
	p.InstallmentID = uuid.MustParse(installmentIDStr)
	return &p, nil
}

// GetPenalty retrieves a penalty by its ID.
func (s *SQLiteStore) GetPenalty(id uuid.UUID) (*models.Penalty, error) {
	p, err := scanPenalty(s.db.QueryRow(penaltySelect+` WHERE id = ?`, id.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPenaltyNotFound
		}
		return nil, fmt.Errorf("failed to get penalty: %w", err)
	}
	return p, nil
}

// GetPenaltiesForLoan retrieves every penalty, active or waived, recorded for a loan.
func (s *SQLiteStore) GetPenaltiesForLoan(loanID uuid.UUID) ([]models.Penalty, error) {
	rows, err := s.db.Query(penaltySelect+` WHERE loan_id = ? ORDER BY created_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get penalties for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var penalties []models.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty row: %w", err)
		}
		penalties = append(penalties, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for penalties: %w", err)
	}
	return penalties, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
