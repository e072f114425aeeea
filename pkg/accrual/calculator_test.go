package accrual

import (
	"testing"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialPeriodProratesInterest(t *testing.T) {
	loan := testLoan()
	till := day(time.January, 11)

	accruals, err := Compute(loan, till, till, config.Default())
	require.NoError(t, err)
	require.Len(t, accruals, 1)

	a := accruals[0]
	assert.Equal(t, 1, a.InstallmentNumber)
	assert.True(t, a.Date.Equal(till))
	assert.Equal(t, "100", a.Interest.OrZero().String())
	assert.False(t, a.Fee.Changed())
	assert.False(t, a.Penalty.Changed())
	assert.Equal(t, "100", a.Cumulative.Interest.String())
	assert.True(t, a.Postable())
}

func TestRepeatedPassIsIdempotent(t *testing.T) {
	loan := testLoan()
	till := day(time.January, 11)
	now := time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC)

	accruals, err := Compute(loan, till, till, config.Default())
	require.NoError(t, err)
	posted, err := ApplyAll(loan, accruals, now)
	require.NoError(t, err)
	require.Len(t, posted, 1)

	again, err := Compute(loan, till, till, config.Default())
	require.NoError(t, err)
	for _, a := range again {
		assert.False(t, a.Postable(), "second pass must not post for installment %d", a.InstallmentNumber)
	}
}

func TestFullPeriodCompletesPartiallyAccruedInstallment(t *testing.T) {
	loan := testLoan()
	cfg := config.Default()
	first := day(time.January, 11)
	accruals, err := Compute(loan, first, first, cfg)
	require.NoError(t, err)
	_, err = ApplyAll(loan, accruals, first)
	require.NoError(t, err)

	till := day(time.February, 2)
	accruals, err = Compute(loan, till, till, cfg)
	require.NoError(t, err)
	require.Len(t, accruals, 2)

	full, partial := accruals[0], accruals[1]
	assert.True(t, full.Date.Equal(day(time.February, 1)))
	assert.Equal(t, "210", full.Interest.OrZero().String())
	assert.Equal(t, "310", full.Cumulative.Interest.String())

	assert.True(t, partial.Date.Equal(till))
	assert.Equal(t, "10", partial.Interest.OrZero().String())

	_, err = ApplyAll(loan, accruals, till)
	require.NoError(t, err)
	assert.True(t, loan.Installment(1).FullyAccrued())
	require.NotNil(t, loan.AccruedTill)
	assert.True(t, loan.AccruedTill.Equal(till))
}

func TestAccruedCumulativeIsMonotonic(t *testing.T) {
	loan := testLoan()
	withFee(loan, day(time.January, 15), "50")
	cfg := config.Default()

	tills := []time.Time{
		day(time.January, 5),
		day(time.January, 11),
		day(time.January, 20),
		day(time.February, 1),
		day(time.February, 15),
		day(time.March, 1),
		day(time.March, 1),
	}
	prev := map[int]Portions{}
	for _, till := range tills {
		accruals, err := Compute(loan, till, till, cfg)
		require.NoError(t, err)
		_, err = ApplyAll(loan, accruals, till)
		require.NoError(t, err)

		for _, inst := range loan.Installments {
			p := prev[inst.Number]
			assert.False(t, inst.InterestAccrued.LessThan(p.Interest), "interest went backwards at %s", till)
			assert.False(t, inst.FeeAccrued.LessThan(p.Fee), "fee went backwards at %s", till)
			assert.False(t, inst.InterestAccrued.GreaterThan(inst.InterestCharged))
			prev[inst.Number] = Portions{Interest: inst.InterestAccrued, Fee: inst.FeeAccrued, Penalty: inst.PenaltyAccrued}
		}
	}

	total := dec("0")
	for _, tx := range loan.AccrualTransactions() {
		total = total.Add(tx.Amount)
	}
	assert.Equal(t, "650", total.String())
	for _, inst := range loan.Installments {
		assert.True(t, inst.FullyAccrued(), "installment %d", inst.Number)
	}
}

func TestInterestAccruedTillBoundaries(t *testing.T) {
	loan := testLoan()
	s := newSnapshot(loan, loan.Installments[0], config.Default())
	s.AccruableInterest = s.InterestDue

	tests := []struct {
		name string
		till time.Time
		want string
	}{
		{"no days elapsed", day(time.January, 1), "0"},
		{"ten days", day(time.January, 11), "100"},
		{"whole period", day(time.February, 1), "310"},
		{"past due", day(time.February, 10), "310"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InterestAccruedTill(s, tt.till).String())
		})
	}
}

func TestInterestAccruedTillZeroLengthPeriod(t *testing.T) {
	loan := testLoan()
	inst := loan.Installments[0]
	inst.DueDate = inst.FromDate
	s := newSnapshot(loan, inst, config.Default())
	s.AccruableInterest = dec("42")

	assert.Equal(t, "42", InterestAccruedTill(s, inst.FromDate).String())
}

func TestInterestAccruedTillHonoursInterestChargedFrom(t *testing.T) {
	loan := testLoan()
	loan.InterestChargedFrom = datePtr(day(time.January, 11))
	s := newSnapshot(loan, loan.Installments[0], config.Default())
	s.AccruableInterest = dec("310")

	// 21 interest days, 10 of them elapsed by Jan 21.
	assert.Equal(t, "147.62", InterestAccruedTill(s, day(time.January, 21)).String())
	assert.Equal(t, "0", InterestAccruedTill(s, day(time.January, 5)).String())
}

func TestFullPeriodWithNothingOwedIsNotPostable(t *testing.T) {
	loan := testLoan()
	loan.Installments[0].InterestAccrued = dec("310")
	s := newSnapshot(loan, loan.Installments[0], config.Default())
	s.AccruableInterest = s.InterestDue

	a := FullPeriod(s, day(time.February, 1), config.Default())
	assert.False(t, a.Interest.Changed())
	assert.False(t, a.Postable())
}

func TestFullPeriodPostingDateFollowsPolicy(t *testing.T) {
	loan := testLoan()
	s := newSnapshot(loan, loan.Installments[0], config.Default())
	s.AccruableInterest = s.InterestDue
	business := day(time.February, 5)

	due := FullPeriod(s, business, config.Default())
	assert.True(t, due.Date.Equal(day(time.February, 1)))

	submitted := FullPeriod(s, business, config.Default().WithChargeAccrualDate(config.SubmittedDate))
	assert.True(t, submitted.Date.Equal(business))
}

func TestComputeRejectsNegativeAmounts(t *testing.T) {
	loan := testLoan()
	loan.Installments[0].InterestCharged = dec("-1")

	_, err := Compute(loan, day(time.January, 11), day(time.January, 11), config.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestComputeRejectsMissingCurrency(t *testing.T) {
	loan := testLoan()
	loan.Currency.Code = ""

	_, err := Compute(loan, day(time.January, 11), day(time.January, 11), config.Default())
	assert.ErrorIs(t, err, ErrComputation)
}

func TestComputeFullPostsOnDueDates(t *testing.T) {
	loan := testLoan()
	till := day(time.February, 15)

	accruals, err := ComputeFull(loan, till, config.Default())
	require.NoError(t, err)
	require.Len(t, accruals, 1)
	assert.True(t, accruals[0].Date.Equal(day(time.February, 1)))
	assert.Equal(t, "310", accruals[0].Total().String())
}

func TestRecalculationSnapshotsFollowWatermark(t *testing.T) {
	loan := testLoan()
	loan.InterestRecalculation = true
	loan.AccruedTill = datePtr(day(time.February, 10))
	business := day(time.February, 20)

	snaps, till := BuildRecalculationSnapshots(loan, business, config.Default())
	require.Len(t, snaps, 2)
	assert.True(t, till.Equal(day(time.February, 10)))

	loan.Installments[1].DueDate = day(time.March, 5)
	_, till = BuildRecalculationSnapshots(loan, business, config.Default())
	assert.True(t, till.Equal(business), "installment due after maturity accrues to the business date")

	accruals, err := ComputeSnapshots(loan, snaps, till, business, config.Default())
	require.NoError(t, err)
	require.NotEmpty(t, accruals)
	assert.Equal(t, models.TransactionTypeAccrual, mustApply(t, loan, accruals[0]).Type)
}

func mustApply(t *testing.T, loan *models.Loan, a Accrual) *models.Transaction {
	t.Helper()
	tx, err := Apply(loan, a, a.Date)
	require.NoError(t, err)
	require.NotNil(t, tx)
	return tx
}

func TestChargeAllocationsMatchBookedCharges(t *testing.T) {
	loan := testLoan()
	withFee(loan, day(time.January, 15), "50")
	penalty := withFee(loan, day(time.January, 20), "40")
	penalty.Penalty = true
	inst := &loan.Installments[0]
	inst.FeeChargesCharged = dec("50")
	inst.PenaltyChargesCharged = dec("40")
	inst.CreditedFee = dec("20")
	inst.CreditedPenalty = dec("40")
	till := day(time.February, 1)

	accruals, err := Compute(loan, till, till, config.Default())
	require.NoError(t, err)
	posted, err := ApplyAll(loan, accruals, till)
	require.NoError(t, err)
	require.Len(t, posted, 1)

	tx := posted[0]
	assert.Equal(t, "30", tx.FeePortion.String())
	assert.True(t, tx.PenaltyPortion.IsZero(), "credited penalty is not booked")
	require.Len(t, tx.ChargesPaid, 1)
	assert.Equal(t, int64(11), tx.ChargesPaid[0].LoanChargeID)

	allocated := dec("0")
	for _, p := range tx.ChargesPaid {
		allocated = allocated.Add(p.Amount)
	}
	assert.Equal(t, tx.FeePortion.Add(tx.PenaltyPortion).String(), allocated.String())
	assert.True(t, loan.Charge(12).AmountAccrued.IsZero())
}
