package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/obs"
	"go.uber.org/zap"
)

// LoanResult is the outcome of one loan in a batch run. Err is nil on success.
type LoanResult struct {
	LoanID   uuid.UUID
	Created  int
	Reversed int
	Err      error
}

// BatchReport summarizes a periodic accrual run.
type BatchReport struct {
	Till     time.Time
	Started  time.Time
	Duration time.Duration
	Results  []LoanResult
}

// Posted is the number of transactions created across the batch.
func (r *BatchReport) Posted() int {
	n := 0
	for _, res := range r.Results {
		n += res.Created
	}
	return n
}

func (r *BatchReport) Failed() []LoanResult {
	var out []LoanResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// AddPeriodicAccruals accrues every eligible loan up to till, one loan at a time.
// A failing loan is logged and collected; the run continues and the failures are
// returned together as a *BatchError alongside the full report.
func (l *Ledger) AddPeriodicAccruals(ctx context.Context, till time.Time) (*BatchReport, error) {
	report := &BatchReport{Till: till, Started: l.now()}
	defer func() {
		report.Duration = l.now().Sub(report.Started)
		obs.ObserveBatch(report.Duration)
	}()

	l.log.Info("Running periodic accrual...", zap.Time("till", till), zap.Time("business_date", l.businessDate()))
	loanIDs, err := l.storage.GetAccrualLoanIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: failed to get loans for accrual: %w", ErrPersistence, err)
	}

	var batchErr BatchError
	for _, id := range loanIDs {
		if err := ctx.Err(); err != nil {
			l.log.Warn("periodic accrual interrupted", zap.Int("remaining", len(loanIDs)-len(report.Results)), zap.Error(err))
			return report, err
		}
		res := LoanResult{LoanID: id}
		pass, err := l.periodicAccrual(ctx, id, till)
		if err != nil {
			res.Err = err
			if le, ok := err.(*LoanError); ok {
				batchErr.Failures = append(batchErr.Failures, le)
			}
		} else {
			res.Created = len(pass.created)
			res.Reversed = len(pass.reversed)
		}
		report.Results = append(report.Results, res)
	}

	l.log.Info("Periodic accrual finished",
		zap.Int("loans", len(report.Results)),
		zap.Int("posted", report.Posted()),
		zap.Int("failed", len(batchErr.Failures)),
	)
	if len(batchErr.Failures) > 0 {
		return report, &batchErr
	}
	return report, nil
}
