package reprocess

import (
	"sort"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

// IncomePostingAndAccruals books an INCOME_POSTING, and for periodic loans a
// matching ACCRUAL, for every compounding detail effective before businessDate.
// Existing postings that disagree with the compounded amount are replaced.
func IncomePostingAndAccruals(loan *models.Loan, businessDate, now time.Time) {
	if !loan.CompoundingAsIncome {
		return
	}
	details := append([]models.CompoundingDetail(nil), loan.Compounding...)
	sort.SliceStable(details, func(i, j int) bool { return details[i].EffectiveDate.Before(details[j].EffectiveDate) })

	last := loan.DisbursementDate
	for _, d := range details {
		if !d.EffectiveDate.Before(businessDate) {
			break
		}
		fees := collectFees(loan, last, d.EffectiveDate)
		p := compoundedPortions(loan.CompoundingMethod, d.Amount, fees)

		income := onDate(loan.IncomePostingTransactions(), d.EffectiveDate)
		if income == nil || !income.Amount.Equal(d.Amount) {
			if income != nil {
				income.Reverse()
			}
			loan.AddTransaction(&models.Transaction{
				Type:            models.TransactionTypeIncomePosting,
				Date:            d.EffectiveDate,
				Amount:          d.Amount,
				InterestPortion: p.interest,
				FeePortion:      p.fee,
				PenaltyPortion:  p.penalty,
				CreatedAt:       now,
			})
		}

		if loan.IsPeriodicAccrual() {
			accrual := onDate(loan.AccrualTransactions(), d.EffectiveDate)
			if accrual == nil || !accrual.Amount.Equal(d.Amount) {
				if accrual != nil {
					accrual.Reverse()
				}
				loan.AddTransaction(&models.Transaction{
					Type:            models.TransactionTypeAccrual,
					Date:            d.EffectiveDate,
					Amount:          d.Amount,
					InterestPortion: p.interest,
					FeePortion:      p.fee,
					PenaltyPortion:  p.penalty,
					ChargesPaid:     fees.Paid,
					CreatedAt:       now,
				})
			}
		}
		last = d.EffectiveDate
	}

	if inst := loan.LastInstallment(); inst != nil {
		reverseAfter(loan.IncomePostingTransactions(), inst.DueDate)
		reverseAfter(loan.AccrualTransactions(), inst.DueDate)
	}
	loan.SyncChargeAccruals()
}

func compoundedPortions(method models.CompoundingMethod, amount decimal.Decimal, fees feeDetails) portions {
	switch method {
	case models.CompoundingFee:
		return portions{interest: decimal.Zero, fee: fees.Fee, penalty: fees.Penalty}
	case models.CompoundingInterestAndFee:
		return portions{interest: amount.Sub(fees.Fee).Sub(fees.Penalty), fee: fees.Fee, penalty: fees.Penalty}
	default:
		return portions{interest: amount, fee: decimal.Zero, penalty: decimal.Zero}
	}
}

func onDate(txs []*models.Transaction, date time.Time) *models.Transaction {
	for _, tx := range txs {
		if tx.Date.Equal(date) {
			return tx
		}
	}
	return nil
}
