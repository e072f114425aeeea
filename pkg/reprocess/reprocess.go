// Package reprocess reconciles a loan's booked accrual and income-posting
// transactions with its current schedule after reschedules, closure,
// foreclosure and compounding.
package reprocess

import (
	"errors"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrUnexpectedStatus = errors.New("unexpected loan status for closure accrual")

// ExistingAccruals makes the loan's accrual transactions agree with its current
// schedule and charges. Periodic loans are matched per installment; other
// accounting modes are matched against total interest and charge amounts.
func ExistingAccruals(loan *models.Loan, cfg config.Config, now time.Time) {
	accruals := loan.AccrualTransactions()
	if len(accruals) == 0 {
		return
	}
	if loan.IsPeriodicAccrual() {
		periodic(loan, accruals, cfg)
	} else {
		nonPeriodic(loan, accruals, now)
	}
	loan.SyncChargeAccruals()
}

func periodic(loan *models.Loan, accruals []*models.Transaction, cfg config.Config) {
	if loan.ChargedOff {
		return
	}
	for i := range loan.Installments {
		inst := &loan.Installments[i]
		interest, fee, penalty := decimal.Zero, decimal.Zero, decimal.Zero
		for _, tx := range accruals {
			if tx.Reversed || !loan.InPeriod(rangeDate(loan, tx, cfg), inst) {
				continue
			}
			interest = interest.Add(tx.InterestPortion)
			fee = fee.Add(tx.FeePortion)
			penalty = penalty.Add(tx.PenaltyPortion)
			if stale(loan, inst, tx, interest, fee, penalty) {
				interest = interest.Sub(tx.InterestPortion)
				fee = fee.Sub(tx.FeePortion)
				penalty = penalty.Sub(tx.PenaltyPortion)
				tx.Reverse()
			}
		}
		inst.UpdateAccrualPortion(interest, fee, penalty)
	}
	if last := loan.LastInstallment(); last != nil {
		reverseAfter(accruals, last.DueDate)
	}
	resetWatermark(loan)
}

// rangeDate is the date an accrual is attributed to. Under the submitted-date
// policy a charge accrual belongs to its charge's due date.
func rangeDate(loan *models.Loan, tx *models.Transaction, cfg config.Config) time.Time {
	if cfg.SubmittedDatePolicy() && len(tx.ChargesPaid) > 0 {
		if c := loan.Charge(tx.ChargesPaid[0].LoanChargeID); c != nil {
			return c.EffectiveDueDate()
		}
	}
	return tx.Date
}

// stale reports an accrual that no longer fits its installment: it books more than
// is charged, or it is the watermark accrual of an interest-bearing loan whose
// installment moved to a different due date.
func stale(loan *models.Loan, inst *models.Installment, tx *models.Transaction, interest, fee, penalty decimal.Decimal) bool {
	if inst.FeeChargesCharged.LessThan(fee) ||
		inst.InterestCharged.LessThan(interest) ||
		inst.PenaltyChargesCharged.LessThan(penalty) {
		return true
	}
	return loan.IsInterestBearing() &&
		loan.AccruedTill != nil &&
		loan.AccruedTill.Equal(tx.Date) &&
		!loan.AccruedTill.Equal(inst.DueDate)
}

// resetWatermark moves the watermark back to the latest live accrual.
func resetWatermark(loan *models.Loan) {
	live := loan.AccrualTransactions()
	if len(live) == 0 {
		loan.AccruedTill = nil
		return
	}
	d := live[len(live)-1].Date
	loan.AccruedTill = &d
}

func nonPeriodic(loan *models.Loan, accruals []*models.Transaction, now time.Time) {
	applied := loan.TotalInterestCharged()
	for _, tx := range accruals {
		if tx.InterestPortion.IsPositive() {
			if tx.InterestPortion.Equal(applied) {
				continue
			}
			tx.Reverse()
			loan.AddTransaction(&models.Transaction{
				Type:            models.TransactionTypeAccrual,
				Date:            loan.DisbursementDate,
				Amount:          applied,
				InterestPortion: applied,
				CreatedAt:       now,
			})
			continue
		}
		for _, paid := range tx.ChargesPaid {
			c := loan.Charge(paid.LoanChargeID)
			if c == nil || c.Amount.Equal(tx.Amount) {
				continue
			}
			tx.Reverse()
			loan.AddTransaction(chargeAccrual(c, tx.Date, now))
			break
		}
	}
}

func chargeAccrual(c *models.Charge, date, now time.Time) *models.Transaction {
	tx := &models.Transaction{
		Type:        models.TransactionTypeAccrual,
		Date:        date,
		Amount:      c.Amount,
		ChargesPaid: []models.ChargePaidBy{{LoanChargeID: c.ID, Amount: c.Amount}},
		CreatedAt:   now,
	}
	if c.Penalty {
		tx.PenaltyPortion = c.Amount
	} else {
		tx.FeePortion = c.Amount
	}
	return tx
}

func reverseAfter(txs []*models.Transaction, date time.Time) {
	for _, tx := range txs {
		if tx.Date.After(date) {
			tx.Reverse()
		}
	}
}

func reverseOnOrAfter(txs []*models.Transaction, date time.Time) {
	for _, tx := range txs {
		if !tx.Date.Before(date) {
			tx.Reverse()
		}
	}
}
