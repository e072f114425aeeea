package accrual

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
)

var usd = money.Currency{Code: "USD", DecimalPlaces: 2}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(m time.Month, d int) time.Time { return models.Date(2024, m, d) }

func datePtr(t time.Time) *time.Time { return &t }

// testLoan is a two-installment periodic-accrual loan:
// Jan 1 to Feb 1 with 310 interest, Feb 1 to Mar 1 with 290 interest.
func testLoan() *models.Loan {
	return &models.Loan{
		ID:               uuid.MustParse("5b0f8a4e-2f4c-4a51-9a57-3d4f1e0c2a11"),
		ProductID:        7,
		OfficeID:         1,
		Currency:         usd,
		Status:           models.LoanStatusActive,
		AccountingRule:   models.AccountingAccrualPeriodic,
		InterestRate:     dec("12"),
		DisbursementDate: day(time.January, 1),
		MaturityDate:     day(time.March, 1),
		Installments: []models.Installment{
			{
				Number:          1,
				FromDate:        day(time.January, 1),
				DueDate:         day(time.February, 1),
				Principal:       dec("500"),
				InterestCharged: dec("310"),
			},
			{
				Number:          2,
				FromDate:        day(time.February, 1),
				DueDate:         day(time.March, 1),
				Principal:       dec("500"),
				InterestCharged: dec("290"),
			},
		},
	}
}

func withFee(loan *models.Loan, due time.Time, amount string) *models.Charge {
	loan.Charges = append(loan.Charges, models.Charge{
		ID:                int64(len(loan.Charges) + 11),
		ChargeID:          3,
		Active:            true,
		DueDate:           datePtr(due),
		SubmittedOn:       loan.DisbursementDate,
		Amount:            dec(amount),
		AmountOutstanding: dec(amount),
	})
	for i := range loan.Installments {
		inst := &loan.Installments[i]
		if loan.InPeriod(due, inst) {
			inst.FeeChargesCharged = inst.FeeChargesCharged.Add(dec(amount))
		}
	}
	return &loan.Charges[len(loan.Charges)-1]
}

func moneyOf(s string) money.Money { return money.Of(usd, dec(s)) }
