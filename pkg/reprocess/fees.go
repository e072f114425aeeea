package reprocess

import (
	"time"

	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

// feeDetails collects the fee and penalty income of charges due in (from, to],
// or [from, to] when from is the disbursement date, plus installment fees of
// installments due in the same window.
type feeDetails struct {
	Fee     decimal.Decimal
	Penalty decimal.Decimal
	Paid    []models.ChargePaidBy
}

func collectFees(loan *models.Loan, from, to time.Time) feeDetails {
	out := feeDetails{Fee: decimal.Zero, Penalty: decimal.Zero}
	inclusive := from.Equal(loan.DisbursementDate)

	due := map[int]bool{}
	for _, inst := range loan.Installments {
		if inst.DueDate.After(from) && !inst.DueDate.After(to) {
			due[inst.Number] = true
		}
	}

	for _, c := range loan.ActiveCharges() {
		switch {
		case c.InstallmentFee:
			for _, ic := range c.Installments {
				if !due[ic.InstallmentNumber] {
					continue
				}
				n := ic.InstallmentNumber
				out.add(c, ic.Amount, &n)
			}
		case c.DueInWindow(from, to, inclusive):
			out.add(c, c.Amount, nil)
		}
	}
	return out
}

func (f *feeDetails) add(c *models.Charge, amount decimal.Decimal, installment *int) {
	if c.Penalty {
		f.Penalty = f.Penalty.Add(amount)
	} else {
		f.Fee = f.Fee.Add(amount)
	}
	f.Paid = append(f.Paid, models.ChargePaidBy{LoanChargeID: c.ID, Amount: amount, InstallmentNumber: installment})
}

// accruedByCharge sums charge allocations of the live accrual transactions.
func accruedByCharge(loan *models.Loan) map[int64]decimal.Decimal {
	out := map[int64]decimal.Decimal{}
	for _, tx := range loan.AccrualTransactions() {
		for _, p := range tx.ChargesPaid {
			out[p.LoanChargeID] = out[p.LoanChargeID].Add(p.Amount)
		}
	}
	return out
}

func lastAccrualDate(loan *models.Loan) time.Time {
	live := loan.AccrualTransactions()
	if len(live) == 0 {
		return loan.DisbursementDate
	}
	return live[len(live)-1].Date
}
