package reprocess

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/accrual"
	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(m time.Month, d int) time.Time { return models.Date(2024, m, d) }

func datePtr(t time.Time) *time.Time { return &t }

var now = time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)

func testLoan() *models.Loan {
	return &models.Loan{
		ID:               uuid.MustParse("1c7e3a52-0c1b-4f3e-8d2a-6f1b2c3d4e5f"),
		OfficeID:         1,
		Currency:         money.Currency{Code: "USD", DecimalPlaces: 2},
		Status:           models.LoanStatusActive,
		AccountingRule:   models.AccountingAccrualPeriodic,
		InterestRate:     dec("12"),
		DisbursementDate: day(time.January, 1),
		MaturityDate:     day(time.March, 1),
		Installments: []models.Installment{
			{Number: 1, FromDate: day(time.January, 1), DueDate: day(time.February, 1), InterestCharged: dec("310")},
			{Number: 2, FromDate: day(time.February, 1), DueDate: day(time.March, 1), InterestCharged: dec("290")},
		},
	}
}

func accrualTx(id int64, date time.Time, interest string) *models.Transaction {
	return &models.Transaction{
		ID:              id,
		Type:            models.TransactionTypeAccrual,
		Date:            date,
		Amount:          dec(interest),
		InterestPortion: dec(interest),
		CreatedAt:       date,
	}
}

func sumInterest(txs []*models.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.InterestPortion)
	}
	return total
}

func TestExistingAccrualsAfterReschedule(t *testing.T) {
	loan := testLoan()
	old := accrualTx(1, day(time.February, 1), "310")
	loan.Transactions = []*models.Transaction{old}
	loan.Installments[0].InterestAccrued = dec("310")
	loan.AccruedTill = datePtr(day(time.February, 1))

	loan.Installments[0].DueDate = day(time.February, 11)
	loan.Installments[0].InterestCharged = dec("400")
	loan.Installments[1].FromDate = day(time.February, 11)
	loan.Installments[1].DueDate = day(time.March, 11)
	loan.MaturityDate = day(time.March, 11)

	ExistingAccruals(loan, config.Default(), now)

	assert.True(t, old.Reversed, "accrual on the old due date is stale")
	assert.True(t, loan.Installments[0].InterestAccrued.IsZero())
	assert.Nil(t, loan.AccruedTill)

	till := day(time.February, 15)
	accruals, err := accrual.Compute(loan, till, till, config.Default())
	require.NoError(t, err)
	posted, err := accrual.ApplyAll(loan, accruals, now)
	require.NoError(t, err)
	require.NotEmpty(t, posted)
	assert.True(t, posted[0].Date.Equal(day(time.February, 11)))
	assert.Equal(t, "400", posted[0].InterestPortion.String())
}

func TestReaccrualAfterRescheduleReallocatesCharge(t *testing.T) {
	loan := testLoan()
	loan.Charges = []models.Charge{{
		ID:                7,
		ChargeID:          3,
		Active:            true,
		DueDate:           datePtr(day(time.January, 15)),
		SubmittedOn:       day(time.January, 1),
		Amount:            dec("50"),
		AmountOutstanding: dec("50"),
	}}
	loan.Installments[0].FeeChargesCharged = dec("50")

	first := day(time.February, 1)
	accruals, err := accrual.Compute(loan, first, first, config.Default())
	require.NoError(t, err)
	posted, err := accrual.ApplyAll(loan, accruals, now)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	require.Len(t, posted[0].ChargesPaid, 1)
	posted[0].ID = 1
	require.Equal(t, "50", loan.Charge(7).AmountAccrued.String())

	loan.Installments[0].DueDate = day(time.February, 10)
	loan.Installments[1].FromDate = day(time.February, 10)
	loan.Installments[1].DueDate = day(time.March, 10)
	loan.MaturityDate = day(time.March, 10)

	ExistingAccruals(loan, config.Default(), now)
	require.True(t, posted[0].Reversed)
	assert.True(t, loan.Charge(7).AmountAccrued.IsZero(), "reversal releases the charge")

	till := day(time.February, 12)
	accruals, err = accrual.Compute(loan, till, till, config.Default())
	require.NoError(t, err)
	redone, err := accrual.ApplyAll(loan, accruals, now)
	require.NoError(t, err)
	require.NotEmpty(t, redone)

	tx := redone[0]
	assert.True(t, tx.Date.Equal(day(time.February, 10)))
	assert.Equal(t, "50", tx.FeePortion.String())
	require.Len(t, tx.ChargesPaid, 1)
	assert.Equal(t, int64(7), tx.ChargesPaid[0].LoanChargeID)
	assert.Equal(t, "50", tx.ChargesPaid[0].Amount.String())
	assert.Equal(t, "50", loan.Charge(7).AmountAccrued.String())
}

func TestExistingAccrualsReleasesInstallmentFee(t *testing.T) {
	loan := testLoan()
	loan.InterestRate = decimal.Zero
	two := 2
	loan.Charges = []models.Charge{{
		ID:             8,
		Active:         true,
		InstallmentFee: true,
		Amount:         dec("20"),
		AmountAccrued:  dec("10"),
		Installments: []models.InstallmentCharge{
			{InstallmentNumber: 1, Amount: dec("10")},
			{InstallmentNumber: 2, Amount: dec("10"), AmountAccrued: dec("10")},
		},
	}}
	trailing := &models.Transaction{
		ID:          1,
		Type:        models.TransactionTypeAccrual,
		Date:        day(time.March, 5),
		Amount:      dec("10"),
		FeePortion:  dec("10"),
		ChargesPaid: []models.ChargePaidBy{{LoanChargeID: 8, Amount: dec("10"), InstallmentNumber: &two}},
	}
	loan.Transactions = []*models.Transaction{trailing}

	ExistingAccruals(loan, config.Default(), now)

	assert.True(t, trailing.Reversed)
	c := loan.Charge(8)
	assert.True(t, c.AmountAccrued.IsZero())
	assert.True(t, c.InstallmentCharge(2).AmountAccrued.IsZero())
}

func TestExistingAccrualsKeepsMatchingAccruals(t *testing.T) {
	loan := testLoan()
	first := accrualTx(1, day(time.February, 1), "310")
	partial := accrualTx(2, day(time.February, 11), "100")
	loan.Transactions = []*models.Transaction{first, partial}
	loan.AccruedTill = datePtr(day(time.February, 11))

	ExistingAccruals(loan, config.Default(), now)

	assert.False(t, first.Reversed)
	assert.True(t, partial.Reversed, "watermark accrual inside a running installment is redone")
	assert.Equal(t, "310", loan.Installments[0].InterestAccrued.String())
	require.NotNil(t, loan.AccruedTill)
	assert.True(t, loan.AccruedTill.Equal(day(time.February, 1)))
}

func TestExistingAccrualsReversesOverAccrual(t *testing.T) {
	loan := testLoan()
	loan.InterestRate = decimal.Zero
	tx := accrualTx(1, day(time.January, 20), "250")
	loan.Transactions = []*models.Transaction{tx}
	loan.Installments[0].InterestCharged = dec("200")

	ExistingAccruals(loan, config.Default(), now)

	assert.True(t, tx.Reversed)
	assert.True(t, loan.Installments[0].InterestAccrued.IsZero())
}

func TestExistingAccrualsReversesTrailingAccruals(t *testing.T) {
	loan := testLoan()
	loan.InterestRate = decimal.Zero
	inside := accrualTx(1, day(time.February, 1), "310")
	trailing := accrualTx(2, day(time.March, 5), "10")
	loan.Transactions = []*models.Transaction{inside, trailing}

	ExistingAccruals(loan, config.Default(), now)

	assert.False(t, inside.Reversed)
	assert.True(t, trailing.Reversed)
}

func TestExistingAccrualsSkipsChargedOffLoans(t *testing.T) {
	loan := testLoan()
	loan.ChargedOff = true
	tx := accrualTx(1, day(time.March, 5), "10")
	loan.Transactions = []*models.Transaction{tx}

	ExistingAccruals(loan, config.Default(), now)
	assert.False(t, tx.Reversed)
}

func TestNonPeriodicInterestAccrualIsReplaced(t *testing.T) {
	loan := testLoan()
	loan.AccountingRule = models.AccountingAccrualUpfront
	old := accrualTx(1, loan.DisbursementDate, "600")
	loan.Transactions = []*models.Transaction{old}
	loan.Installments[1].InterestCharged = dec("340")

	ExistingAccruals(loan, config.Default(), now)

	assert.True(t, old.Reversed)
	created := loan.NewTransactions()
	require.Len(t, created, 1)
	assert.True(t, created[0].Date.Equal(loan.DisbursementDate))
	assert.Equal(t, "650", created[0].InterestPortion.String())
}

func TestNonPeriodicChargeAccrualIsReplaced(t *testing.T) {
	loan := testLoan()
	loan.AccountingRule = models.AccountingAccrualUpfront
	loan.Charges = []models.Charge{{ID: 5, Active: true, DueDate: datePtr(day(time.January, 10)), Amount: dec("40")}}
	old := &models.Transaction{
		ID:          1,
		Type:        models.TransactionTypeAccrual,
		Date:        day(time.January, 10),
		Amount:      dec("30"),
		FeePortion:  dec("30"),
		ChargesPaid: []models.ChargePaidBy{{LoanChargeID: 5, Amount: dec("30")}},
	}
	loan.Transactions = []*models.Transaction{old}

	ExistingAccruals(loan, config.Default(), now)

	assert.True(t, old.Reversed)
	created := loan.NewTransactions()
	require.Len(t, created, 1)
	assert.Equal(t, "40", created[0].FeePortion.String())
	assert.True(t, created[0].Date.Equal(day(time.January, 10)))
}

func TestLoanClosureConservesIncome(t *testing.T) {
	loan := testLoan()
	loan.Installments[0].InterestAccrued = dec("310")
	loan.Installments[1].InterestAccrued = dec("100")
	loan.Installments[1].InterestWaived = dec("20")
	loan.Installments[1].InterestWrittenOff = dec("10")
	loan.Installments[1].FeeChargesCharged = dec("50")
	loan.Charges = []models.Charge{{ID: 9, Active: true, DueDate: datePtr(day(time.February, 10)), Amount: dec("50")}}
	loan.Transactions = []*models.Transaction{
		accrualTx(1, day(time.February, 1), "310"),
		accrualTx(2, day(time.February, 11), "100"),
	}
	loan.Status = models.LoanStatusClosedObligationsMet
	loan.ClosedOn = datePtr(day(time.February, 20))

	require.NoError(t, LoanClosure(loan, now))

	created := loan.NewTransactions()
	require.Len(t, created, 1)
	closing := created[0]
	assert.True(t, closing.Date.Equal(day(time.February, 20)))
	assert.Equal(t, "160", closing.InterestPortion.String())
	assert.Equal(t, "50", closing.FeePortion.String())
	require.Len(t, closing.ChargesPaid, 1)
	assert.Equal(t, "50", closing.ChargesPaid[0].Amount.String())

	// charged 600 less 20 waived less 10 written off
	assert.Equal(t, "570", sumInterest(loan.AccrualTransactions()).String())
	assert.Equal(t, "260", loan.Installments[1].InterestAccrued.String())
	assert.Equal(t, "50", loan.Installments[1].FeeAccrued.String())
	assert.Equal(t, "50", loan.Charge(9).AmountAccrued.String())
}

func TestLoanClosureRejectsOpenLoan(t *testing.T) {
	loan := testLoan()
	err := LoanClosure(loan, now)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestLoanClosureOverpaidUsesOverpaidDate(t *testing.T) {
	loan := testLoan()
	loan.Status = models.LoanStatusOverpaid
	loan.OverpaidOn = datePtr(day(time.February, 25))

	require.NoError(t, LoanClosure(loan, now))
	created := loan.NewTransactions()
	require.Len(t, created, 1)
	assert.True(t, created[0].Date.Equal(day(time.February, 25)))
	assert.Equal(t, "600", created[0].Amount.String())
}

func TestLoanForeclosure(t *testing.T) {
	loan := testLoan()
	loan.Installments[0].InterestAccrued = dec("310")
	loan.Installments[1].InterestAccrued = dec("190")
	stale := accrualTx(2, day(time.February, 20), "190")
	loan.Transactions = []*models.Transaction{
		accrualTx(1, day(time.February, 1), "310"),
		stale,
		{ID: 3, Type: models.TransactionTypeRepayment, Date: day(time.February, 1), Amount: dec("810"), PrincipalPortion: dec("500"), InterestPortion: dec("310")},
	}
	loan.AccruedTill = datePtr(day(time.February, 20))

	tx := LoanForeclosure(loan, day(time.February, 11), config.Default(), now)
	require.NotNil(t, tx)
	assert.True(t, stale.Reversed)
	assert.True(t, tx.Date.Equal(day(time.February, 11)))
	assert.Equal(t, "100", tx.InterestPortion.String())
	assert.True(t, loan.AccruedTill.Equal(day(time.February, 11)))
}

func TestLoanForeclosureOnWatermarkIsNoop(t *testing.T) {
	loan := testLoan()
	loan.AccruedTill = datePtr(day(time.February, 11))
	assert.Nil(t, LoanForeclosure(loan, day(time.February, 11), config.Default(), now))
}

func TestLoanForeclosureRoundsWithConfiguredMode(t *testing.T) {
	// 2.9145 over 29 days is 0.1005 a day; ten days is 1.005.
	build := func() *models.Loan {
		loan := testLoan()
		loan.Installments[0].InterestAccrued = dec("310")
		loan.Installments[1].InterestCharged = dec("2.9145")
		loan.Transactions = []*models.Transaction{accrualTx(1, day(time.February, 1), "310")}
		loan.AccruedTill = datePtr(day(time.February, 1))
		return loan
	}

	halfUp := config.Default()
	halfUp.RoundingMode = money.HalfUp
	tx := LoanForeclosure(build(), day(time.February, 11), halfUp, now)
	require.NotNil(t, tx)
	assert.Equal(t, "1.01", tx.InterestPortion.String())

	tx = LoanForeclosure(build(), day(time.February, 11), config.Default(), now)
	require.NotNil(t, tx)
	assert.Equal(t, "1", tx.InterestPortion.String())
}

func compoundingLoan() *models.Loan {
	loan := testLoan()
	loan.CompoundingAsIncome = true
	loan.CompoundingMethod = models.CompoundingInterest
	loan.Compounding = []models.CompoundingDetail{
		{InstallmentNumber: 2, EffectiveDate: day(time.March, 1), Amount: dec("290")},
		{InstallmentNumber: 1, EffectiveDate: day(time.February, 1), Amount: dec("310")},
	}
	return loan
}

func TestIncomePostingAndAccruals(t *testing.T) {
	loan := compoundingLoan()

	IncomePostingAndAccruals(loan, day(time.February, 15), now)

	income := loan.IncomePostingTransactions()
	accruals := loan.AccrualTransactions()
	require.Len(t, income, 1)
	require.Len(t, accruals, 1)
	assert.True(t, income[0].Date.Equal(day(time.February, 1)))
	assert.Equal(t, "310", income[0].InterestPortion.String())

	for _, tx := range loan.Transactions {
		tx.ID = tx.CreatedAt.Unix()
	}
	IncomePostingAndAccruals(loan, day(time.February, 15), now)
	assert.Empty(t, loan.NewTransactions(), "matching postings are kept")

	loan.Compounding[1].Amount = dec("320")
	IncomePostingAndAccruals(loan, day(time.February, 15), now)
	assert.True(t, income[0].Reversed)
	assert.True(t, accruals[0].Reversed)
	assert.Len(t, loan.NewTransactions(), 2)
}

func TestIncomePostingFeeMethod(t *testing.T) {
	loan := compoundingLoan()
	loan.CompoundingMethod = models.CompoundingInterestAndFee
	loan.Charges = []models.Charge{{ID: 4, Active: true, DueDate: datePtr(day(time.January, 15)), Amount: dec("10")}}
	loan.Compounding[1].Amount = dec("320")

	IncomePostingAndAccruals(loan, day(time.February, 15), now)

	income := loan.IncomePostingTransactions()
	require.Len(t, income, 1)
	assert.Equal(t, "310", income[0].InterestPortion.String())
	assert.Equal(t, "10", income[0].FeePortion.String())
	accruals := loan.AccrualTransactions()
	require.Len(t, accruals, 1)
	require.Len(t, accruals[0].ChargesPaid, 1)
	assert.Equal(t, int64(4), accruals[0].ChargesPaid[0].LoanChargeID)
}

func TestIncomeOnClosure(t *testing.T) {
	loan := compoundingLoan()
	loan.Transactions = []*models.Transaction{
		{ID: 1, Type: models.TransactionTypeIncomePosting, Date: day(time.February, 1), Amount: dec("310"), InterestPortion: dec("310")},
		{ID: 2, Type: models.TransactionTypeIncomePosting, Date: day(time.February, 25), Amount: dec("50"), InterestPortion: dec("50")},
	}
	loan.Status = models.LoanStatusClosedObligationsMet
	loan.ClosedOn = datePtr(day(time.February, 20))

	require.NoError(t, LoanClosure(loan, now))

	assert.True(t, loan.Transactions[1].Reversed)
	created := loan.NewTransactions()
	require.Len(t, created, 2)
	assert.Equal(t, models.TransactionTypeIncomePosting, created[0].Type)
	assert.Equal(t, "290", created[0].InterestPortion.String())
	assert.Equal(t, models.TransactionTypeAccrual, created[1].Type)
}
