package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/lendengine/pkg/engine"
	"github.com/mcclellann/lendengine/pkg/ledger"
	"github.com/mcclellann/lendengine/pkg/models"
	"github.com/mcclellann/lendengine/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date or an RFC 3339 timestamp. An empty value
// yields the zero time, which the ledger reads as now.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t.UTC(), nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger and engine failures onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrLoanNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrPenaltyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrOverAllocation),
		errors.Is(err, engine.ErrInvalidPenaltyTarget),
		errors.Is(err, store.ErrAlreadyReversed),
		errors.Is(err, ledger.ErrLoanClosed):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("op", op),
			zap.Error(err),
		)
	}
	http.Error(w, err.Error(), status)
}

type loanRequest struct {
	CustomerKey string `json:"customer_key"`
	models.LoanTerms
	DisbursementDate string `json:"disbursement_date"`
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	disbursedAt, err := parseDate(req.DisbursementDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	quote, schedule, err := s.ledger.Quote(req.LoanTerms, disbursedAt)
	if err != nil {
		s.writeError(w, "api.quote", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Quote    engine.Quote         `json:"quote"`
		Schedule []models.Installment `json:"schedule"`
	}{quote, schedule})
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	disbursedAt, err := parseDate(req.DisbursementDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, schedule, err := s.ledger.CreateLoan(req.CustomerKey, req.LoanTerms, disbursedAt)
	if err != nil {
		s.writeError(w, "api.createLoan", err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Loan     *models.Loan         `json:"loan"`
		Schedule []models.Installment `json:"schedule"`
	}{loan, schedule})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, "api.getLoan", err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, "api.listLoans", err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	if err := s.ledger.DeleteLoan(loanID); err != nil {
		s.writeError(w, "api.deleteLoan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("asOf"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	schedule, err := s.ledger.GetSchedule(loanID, asOf)
	if err != nil {
		s.writeError(w, "api.getSchedule", err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) getBalanceHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("asOf"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	balance, err := s.ledger.GetBalance(loanID, asOf)
	if err != nil {
		s.writeError(w, "api.getBalance", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Method string          `json:"method"`
		PaidAt string          `json:"paid_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paidAt, err := parseDate(req.PaidAt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, allocations, err := s.ledger.RecordPayment(loanID, req.Amount, req.Method, paidAt)
	if err != nil {
		s.writeError(w, "api.recordPayment", err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Payment     *models.Payment     `json:"payment"`
		Allocations []models.Allocation `json:"allocations"`
	}{payment, allocations})
}

func (s *Server) reversePaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reversal, err := s.ledger.ReversePayment(paymentID, req.Reason, time.Time{})
	if err != nil {
		s.writeError(w, "api.reversePayment", err)
		return
	}
	writeJSON(w, http.StatusCreated, reversal)
}

func (s *Server) listPenaltiesHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	penalties, err := s.ledger.GetPenalties(loanID)
	if err != nil {
		s.writeError(w, "api.listPenalties", err)
		return
	}
	if penalties == nil {
		penalties = []models.Penalty{}
	}
	writeJSON(w, http.StatusOK, penalties)
}

func (s *Server) waivePenaltyHandler(w http.ResponseWriter, r *http.Request) {
	penaltyID, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid penalty ID", http.StatusBadRequest)
		return
	}

	penalty, err := s.ledger.WaivePenalty(penaltyID)
	if err != nil {
		s.writeError(w, "api.waivePenalty", err)
		return
	}
	writeJSON(w, http.StatusOK, penalty)
}

func (s *Server) sweepPenaltiesHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r.URL.Query().Get("asOf"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.ledger.SweepPenalties(r.Context(), asOf)
	if err != nil {
		s.logger.Error("penalty sweep finished with errors",
			zap.String("op", "api.sweepPenalties"),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, struct {
			ledger.SweepResult
			Error string `json:"error"`
		}{result, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
