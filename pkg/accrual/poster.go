package accrual

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/models"
)

// Apply books a postable accrual into the loan aggregate: a new ACCRUAL transaction
// with its charge allocations, the installment's cumulative portions, the charges'
// accrued amounts and the loan watermark. It returns nil when nothing is postable.
func Apply(loan *models.Loan, a Accrual, now time.Time) (*models.Transaction, error) {
	if !a.Postable() {
		return nil, nil
	}
	inst := loan.Installment(a.InstallmentNumber)
	if inst == nil {
		return nil, fmt.Errorf("%w: loan %s has no installment %d", ErrComputation, loan.ID, a.InstallmentNumber)
	}

	tx := &models.Transaction{
		Type:            models.TransactionTypeAccrual,
		Date:            a.Date,
		Amount:          a.Total(),
		InterestPortion: a.Interest.OrZero(),
		FeePortion:      a.Fee.OrZero(),
		PenaltyPortion:  a.Penalty.OrZero(),
		CreatedAt:       now,
	}
	for _, cd := range a.Charges {
		c := loan.Charge(cd.LoanChargeID)
		if c == nil {
			return nil, fmt.Errorf("%w: loan %s has no charge %d", ErrComputation, loan.ID, cd.LoanChargeID)
		}
		number := a.InstallmentNumber
		tx.ChargesPaid = append(tx.ChargesPaid, models.ChargePaidBy{
			LoanChargeID:      cd.LoanChargeID,
			Amount:            cd.Amount,
			InstallmentNumber: &number,
		})
		if cd.InstallmentFee {
			if ic := c.InstallmentCharge(a.InstallmentNumber); ic != nil {
				ic.AmountAccrued = ic.AmountAccrued.Add(cd.Amount)
			}
		}
		c.AmountAccrued = c.AmountAccrued.Add(cd.Amount)
	}

	inst.UpdateAccrualPortion(a.Cumulative.Interest, a.Cumulative.Fee, a.Cumulative.Penalty)
	if loan.AccruedTill == nil || a.Date.After(*loan.AccruedTill) {
		d := a.Date
		loan.AccruedTill = &d
	}
	loan.AddTransaction(tx)
	return tx, nil
}

// ApplyAll books each postable accrual in order and returns the new transactions.
func ApplyAll(loan *models.Loan, accruals []Accrual, now time.Time) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, a := range accruals {
		tx, err := Apply(loan, a, now)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			out = append(out, tx)
		}
	}
	return out, nil
}
