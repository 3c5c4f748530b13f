package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendengine/pkg/engine"
	"github.com/mcclellann/lendengine/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepResult counts what a penalty sweep did.
type SweepResult struct {
	LoansScanned      int `json:"loans_scanned"`
	PenaltiesAssessed int `json:"penalties_assessed"`
	PenaltiesUpdated  int `json:"penalties_updated"`
	LoansFailed       int `json:"loans_failed"`
}

// SweepPenalties evaluates every active loan as of today and records a
// penalty for each overdue installment past its grace period. An existing
// active penalty is re-priced in place. Loans are evaluated concurrently;
// failures on one loan do not stop the others and are returned joined.
func (l *Ledger) SweepPenalties(ctx context.Context, today time.Time) (SweepResult, error) {
	today = l.at(today)
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list active loans: %w", err)
	}

	var (
		mu     sync.Mutex
		result SweepResult
		errs   []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.sweepConcurrency)

	for _, loan := range loans {
		loanID := loan.ID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			assessed, updated, err := l.sweepLoan(loanID, today)

			mu.Lock()
			defer mu.Unlock()
			result.LoansScanned++
			result.PenaltiesAssessed += assessed
			result.PenaltiesUpdated += updated
			if err != nil {
				result.LoansFailed++
				errs = append(errs, fmt.Errorf("loan %s: %w", loanID, err))
				l.logger.Error("penalty sweep failed for loan",
					zap.String("op", "ledger.SweepPenalties"),
					zap.String("loan_id", loanID.String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	l.logger.Info("penalty sweep finished",
		zap.String("op", "ledger.SweepPenalties"),
		zap.Time("as_of", today),
		zap.Int("loans", result.LoansScanned),
		zap.Int("assessed", result.PenaltiesAssessed),
		zap.Int("updated", result.PenaltiesUpdated),
		zap.Int("failed", result.LoansFailed),
	)
	return result, errors.Join(errs...)
}

func (l *Ledger) sweepLoan(loanID uuid.UUID, today time.Time) (assessed, updated int, err error) {
	unlock := l.locks.lock(loanID)
	defer unlock()

	loan, state, err := l.loadState(loanID)
	if err != nil {
		return 0, 0, err
	}
	if loan.Status != models.LoanStatusActive {
		return 0, 0, nil
	}

	installments := state.Installments(today)
	for _, inst := range installments {
		if inst.Status != models.InstallmentOverdue {
			continue
		}
		next, err := engine.AssessPenalty(loan.Terms, loanID, inst, today)
		if err != nil {
			return assessed, updated, err
		}
		penalty, write := engine.MergePenalty(state.Penalties, next)
		if !write {
			continue
		}

		isNew := penalty.ID == uuid.Nil
		if isNew {
			penalty.ID = uuid.New()
		}
		if err := l.storage.SavePenalty(&penalty); err != nil {
			return assessed, updated, fmt.Errorf("failed to save penalty for installment %d: %w", inst.Number, err)
		}

		if isNew {
			state.Penalties = append(state.Penalties, penalty)
			assessed++
		} else {
			for i := range state.Penalties {
				if state.Penalties[i].ID == penalty.ID {
					state.Penalties[i] = penalty
				}
			}
			updated++
		}
		l.logger.Debug("assessed late penalty",
			zap.String("op", "ledger.SweepPenalties"),
			zap.String("loan_id", loanID.String()),
			zap.Int("installment", inst.Number),
			zap.Int("days_overdue", penalty.DaysOverdue),
			zap.String("amount", penalty.Amount.StringFixed(2)),
		)
	}

	if err := l.storage.UpdateInstallmentProgress(installments); err != nil {
		return assessed, updated, fmt.Errorf("failed to update installments: %w", err)
	}
	return assessed, updated, nil
}
