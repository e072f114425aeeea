package reprocess

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
)

// LoanClosure books the income still unrecognized when a loan closes. Periodic
// loans get one final accrual that tops every installment up to what was charged;
// loans compounding as income get their income postings settled.
func LoanClosure(loan *models.Loan, now time.Time) error {
	if err := accrualOnClosure(loan, now); err != nil {
		return err
	}
	incomeOnClosure(loan, now)
	loan.SyncChargeAccruals()
	return nil
}

func accrualOnClosure(loan *models.Loan, now time.Time) error {
	if !loan.IsPeriodicAccrual() || loan.CompoundingAsIncome || loan.NPA || loan.ChargedOff {
		return nil
	}

	cur := loan.Currency
	interest, fee, penalty := money.Zero(cur), money.Zero(cur), money.Zero(cur)
	for _, inst := range loan.Installments {
		due, err := net(cur, inst.InterestCharged, inst.InterestAccrued, inst.InterestWaived, inst.InterestWrittenOff)
		if err != nil {
			return err
		}
		if interest, err = interest.Plus(due); err != nil {
			return err
		}
	}

	accrued := accruedByCharge(loan)
	for _, c := range loan.ActiveCharges() {
		need, err := net(cur, c.Amount, accrued[c.ID], c.AmountWaived)
		if err != nil {
			return err
		}
		if !need.IsGreaterThanZero() {
			continue
		}
		if c.Penalty {
			penalty, err = penalty.Plus(need)
		} else {
			fee, err = fee.Plus(need)
		}
		if err != nil {
			return err
		}
	}

	total, err := interest.Plus(fee)
	if err != nil {
		return err
	}
	if total, err = total.Plus(penalty); err != nil {
		return err
	}
	if total.IsGreaterThanZero() {
		date, err := closureDate(loan)
		if err != nil {
			return err
		}
		tx := &models.Transaction{
			Type:            models.TransactionTypeAccrual,
			Date:            date,
			Amount:          total.Amount,
			InterestPortion: interest.Amount,
			FeePortion:      fee.Amount,
			PenaltyPortion:  penalty.Amount,
			ChargesPaid:     closureAllocations(loan, accrued),
			CreatedAt:       now,
		}
		loan.AddTransaction(tx)
		loan.AccruedTill = &date
	}

	for i := range loan.Installments {
		inst := &loan.Installments[i]
		inst.UpdateAccrualPortion(
			inst.InterestCharged.Sub(inst.InterestWaived).Sub(inst.InterestWrittenOff),
			inst.FeeChargesCharged.Sub(inst.FeeChargesWaived).Sub(inst.FeeChargesWrittenOff),
			inst.PenaltyChargesCharged.Sub(inst.PenaltyChargesWaived).Sub(inst.PenaltyChargesWrittenOff),
		)
	}
	return nil
}

// net subtracts each of less from amount in the loan currency.
func net(cur money.Currency, amount decimal.Decimal, less ...decimal.Decimal) (money.Money, error) {
	out := money.Of(cur, amount)
	for _, d := range less {
		var err error
		if out, err = out.Minus(money.Of(cur, d)); err != nil {
			return money.Money{}, err
		}
	}
	return out, nil
}

func closureDate(loan *models.Loan) (time.Time, error) {
	switch {
	case loan.Status == models.LoanStatusClosedObligationsMet && loan.ClosedOn != nil:
		return *loan.ClosedOn, nil
	case loan.Status == models.LoanStatusOverpaid && loan.OverpaidOn != nil:
		return *loan.OverpaidOn, nil
	}
	return time.Time{}, fmt.Errorf("%w: loan %s is %s", ErrUnexpectedStatus, loan.ID, loan.Status)
}

// closureAllocations assigns the closing accrual to the charges still short of
// their unwaived amount. Installment fees are settled installment by installment,
// consuming what was already accrued for the charge first.
func closureAllocations(loan *models.Loan, accrued map[int64]decimal.Decimal) []models.ChargePaidBy {
	var out []models.ChargePaidBy
	for _, c := range loan.ActiveCharges() {
		if c.InstallmentFee {
			continue
		}
		gap := c.Amount.Sub(c.AmountWaived).Sub(accrued[c.ID])
		if gap.IsPositive() {
			out = append(out, models.ChargePaidBy{LoanChargeID: c.ID, Amount: gap})
		}
	}
	for _, c := range loan.ActiveCharges() {
		if !c.InstallmentFee {
			continue
		}
		already := accrued[c.ID]
		for _, ic := range c.Installments {
			notWaived := ic.Amount.Sub(ic.AmountWaived)
			if notWaived.IsPositive() {
				if gap := notWaived.Sub(already); gap.IsPositive() {
					n := ic.InstallmentNumber
					out = append(out, models.ChargePaidBy{LoanChargeID: c.ID, Amount: gap, InstallmentNumber: &n})
					already = already.Add(gap)
				}
			}
			already = decimal.Max(decimal.Zero, already.Sub(ic.Amount))
		}
	}
	return out
}

// incomeOnClosure settles income postings when a compounding-as-income loan is
// closed: postings on or after the close date are redone as a single posting of
// everything charged but not yet posted.
func incomeOnClosure(loan *models.Loan, now time.Time) {
	if !loan.CompoundingAsIncome || loan.Status != models.LoanStatusClosedObligationsMet ||
		loan.NPA || loan.ChargedOff || loan.ClosedOn == nil {
		return
	}
	closed := *loan.ClosedOn
	reverseOnOrAfter(loan.IncomePostingTransactions(), closed)
	reverseOnOrAfter(loan.AccrualTransactions(), closed)

	interest, fee, penalty := decimal.Zero, decimal.Zero, decimal.Zero
	for _, inst := range loan.Installments {
		interest = interest.Add(inst.InterestCharged)
		fee = fee.Add(inst.FeeChargesCharged)
		penalty = penalty.Add(inst.PenaltyChargesCharged)
	}
	for _, tx := range loan.IncomePostingTransactions() {
		interest = interest.Sub(tx.InterestPortion)
		fee = fee.Sub(tx.FeePortion)
		penalty = penalty.Sub(tx.PenaltyPortion)
	}
	total := interest.Add(fee).Add(penalty)
	if !total.IsPositive() {
		return
	}

	from := lastAccrualDate(loan)
	loan.AddTransaction(&models.Transaction{
		Type:            models.TransactionTypeIncomePosting,
		Date:            closed,
		Amount:          total,
		InterestPortion: interest,
		FeePortion:      fee,
		PenaltyPortion:  penalty,
		CreatedAt:       now,
	})
	if loan.IsPeriodicAccrual() {
		fees := collectFees(loan, from, closed)
		loan.AddTransaction(&models.Transaction{
			Type:            models.TransactionTypeAccrual,
			Date:            closed,
			Amount:          total,
			InterestPortion: interest,
			FeePortion:      fee,
			PenaltyPortion:  penalty,
			ChargesPaid:     fees.Paid,
			CreatedAt:       now,
		})
		loan.AccruedTill = &closed
	}
}
