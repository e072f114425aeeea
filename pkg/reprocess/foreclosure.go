package reprocess

import (
	"time"

	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

type portions struct {
	interest, fee, penalty decimal.Decimal
}

func zeroPortions() portions {
	return portions{decimal.Zero, decimal.Zero, decimal.Zero}
}

func (p portions) total() decimal.Decimal {
	return p.interest.Add(p.fee).Add(p.penalty)
}

func (p portions) floor() portions {
	return portions{
		interest: decimal.Max(decimal.Zero, p.interest),
		fee:      decimal.Max(decimal.Zero, p.fee),
		penalty:  decimal.Max(decimal.Zero, p.penalty),
	}
}

func (p portions) minus(o portions) portions {
	return portions{p.interest.Sub(o.interest), p.fee.Sub(o.fee), p.penalty.Sub(o.penalty)}
}

// LoanForeclosure accrues everything outstanding as of the foreclosure date on a
// periodic loan. Accruals after the date are reversed first.
func LoanForeclosure(loan *models.Loan, date time.Time, cfg config.Config, now time.Time) *models.Transaction {
	if !loan.IsPeriodicAccrual() || (loan.AccruedTill != nil && loan.AccruedTill.Equal(date)) {
		return nil
	}
	reverseAfter(loan.AccrualTransactions(), date)
	resetWatermark(loan)
	defer loan.SyncChargeAccruals()

	receivable := zeroPortions()
	paid := zeroPortions()
	for _, tx := range loan.Transactions {
		if tx.Reversed || tx.Date.After(date) {
			continue
		}
		switch {
		case tx.Type == models.TransactionTypeAccrual:
			receivable.interest = receivable.interest.Add(tx.InterestPortion)
			receivable.fee = receivable.fee.Add(tx.FeePortion)
			receivable.penalty = receivable.penalty.Add(tx.PenaltyPortion)
		case tx.IsRepaymentLike():
			paid.interest = paid.interest.Add(tx.InterestPortion)
			paid.fee = paid.fee.Add(tx.FeePortion)
			paid.penalty = paid.penalty.Add(tx.PenaltyPortion)
		}
	}
	receivable = receivable.minus(paid).floor()
	outstanding := chargedUntil(loan, date, cfg).minus(paid).floor()
	post := outstanding.minus(receivable).floor()
	if !post.total().IsPositive() {
		return nil
	}

	from := loan.DisbursementDate
	if loan.AccruedTill != nil {
		from = *loan.AccruedTill
	}
	inclusive := from.Equal(loan.DisbursementDate)
	tx := &models.Transaction{
		Type:            models.TransactionTypeAccrual,
		Date:            date,
		Amount:          post.total(),
		InterestPortion: post.interest,
		FeePortion:      post.fee,
		PenaltyPortion:  post.penalty,
		CreatedAt:       now,
	}
	for _, c := range loan.ActiveCharges() {
		if c.Paid || !c.AmountOutstanding.IsPositive() {
			continue
		}
		if c.DueInWindow(from, date, inclusive) || c.InstallmentFee {
			tx.ChargesPaid = append(tx.ChargesPaid, models.ChargePaidBy{LoanChargeID: c.ID, Amount: c.AmountOutstanding})
		}
	}
	loan.AddTransaction(tx)
	loan.AccruedTill = &date
	return tx
}

// chargedUntil is what the borrower owes for the schedule up to date: installments
// due by then in full, the installment running on date with interest pro rata and
// the charges already due. Waived and written-off amounts are excluded.
func chargedUntil(loan *models.Loan, date time.Time, cfg config.Config) portions {
	cur := loan.Currency
	cur.Rounding = cfg.RoundingMode
	out := zeroPortions()
	first := loan.FirstNormalInstallmentNumber()
	for _, inst := range loan.Installments {
		if !inst.DueDate.After(date) {
			out.interest = out.interest.Add(inst.InterestCharged.Sub(inst.InterestWaived).Sub(inst.InterestWrittenOff))
			out.fee = out.fee.Add(inst.FeeChargesCharged.Sub(inst.FeeChargesWaived).Sub(inst.FeeChargesWrittenOff))
			out.penalty = out.penalty.Add(inst.PenaltyChargesCharged.Sub(inst.PenaltyChargesWaived).Sub(inst.PenaltyChargesWrittenOff))
			continue
		}
		if !inst.FromDate.Before(date) {
			continue
		}
		interest := inst.InterestCharged.Sub(inst.InterestWaived).Sub(inst.InterestWrittenOff)
		if total := models.DaysBetween(inst.FromDate, inst.DueDate); total > 0 {
			days := models.DaysBetween(inst.FromDate, date)
			interest = cur.Round(interest.
				Div(decimal.NewFromInt(int64(total))).
				Mul(decimal.NewFromInt(int64(days))))
		}
		out.interest = out.interest.Add(interest)
		for _, c := range loan.ActiveCharges() {
			if c.InstallmentFee || !c.DueInWindow(inst.FromDate, date, inst.Number == first) {
				continue
			}
			amount := c.Amount.Sub(c.AmountWaived)
			if c.Penalty {
				out.penalty = out.penalty.Add(amount)
			} else {
				out.fee = out.fee.Add(amount)
			}
		}
	}
	return out
}
