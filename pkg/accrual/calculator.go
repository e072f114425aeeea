package accrual

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
)

// Portions are cumulative accrued amounts for an installment.
type Portions struct {
	Interest decimal.Decimal
	Fee      decimal.Decimal
	Penalty  decimal.Decimal
}

// Accrual is the computed posting for one installment.
type Accrual struct {
	LoanID            uuid.UUID
	InstallmentNumber int
	Currency          money.Currency
	Date              time.Time
	Interest          Delta
	Fee               Delta
	Penalty           Delta
	Cumulative        Portions
	Charges           []ChargeDelta
}

// Total sums the booked components.
func (a Accrual) Total() decimal.Decimal {
	return a.Interest.OrZero().Add(a.Fee.OrZero()).Add(a.Penalty.OrZero())
}

// Postable reports whether the accrual produces a transaction.
func (a Accrual) Postable() bool {
	return a.Total().IsPositive()
}

// component keeps a delta only when it moves the accrued amount forward.
func component(s Snapshot, delta decimal.Decimal) Delta {
	if !delta.IsPositive() {
		return NoChange()
	}
	return Amount(s.money(delta))
}

// FullPeriod accrues everything still owed for an installment that has reached
// its due date. The posting date is the due date, or businessDate when charges
// are recognized on their submitted date.
func FullPeriod(s Snapshot, businessDate time.Time, cfg config.Config) Accrual {
	a := Accrual{
		LoanID:            s.LoanID,
		InstallmentNumber: s.InstallmentNumber,
		Currency:          s.Currency,
		Date:              s.DueDate,
		Cumulative: Portions{
			Interest: s.InterestAccrued,
			Fee:      s.FeeAccrued,
			Penalty:  s.PenaltyAccrued,
		},
	}
	if cfg.SubmittedDatePolicy() {
		a.Date = businessDate
	}

	a.Interest = component(s, s.AccruableInterest.Sub(s.InterestAccrued))
	if a.Interest.Changed() {
		a.Cumulative.Interest = s.AccruableInterest
	}
	if s.Charges.Fee.Changed() {
		a.Fee = component(s, s.Charges.FeeTotal.Sub(s.FeeAccrued).Sub(s.CreditedFee))
		if a.Fee.Changed() {
			a.Cumulative.Fee = s.Charges.FeeTotal
		}
	}
	if s.Charges.Penalty.Changed() {
		a.Penalty = component(s, s.Charges.PenaltyTotal.Sub(s.PenaltyAccrued).Sub(s.CreditedPenalty))
		if a.Penalty.Changed() {
			a.Cumulative.Penalty = s.Charges.PenaltyTotal
		}
	}
	a.Charges = allocate(s.Charges.Charges, a.Fee, a.Penalty)
	return a
}

// PartialPeriod accrues an installment that straddles till: interest prorated by
// elapsed days, fees and penalties whose dates fall inside the window.
func PartialPeriod(s Snapshot, till time.Time) Accrual {
	a := Accrual{
		LoanID:            s.LoanID,
		InstallmentNumber: s.InstallmentNumber,
		Currency:          s.Currency,
		Date:              till,
		Cumulative: Portions{
			Interest: s.InterestAccrued,
			Fee:      s.FeeAccrued,
			Penalty:  s.PenaltyAccrued,
		},
	}

	a.Interest = component(s, InterestAccruedTill(s, till).Sub(s.InterestAccrued))
	a.Cumulative.Interest = s.InterestAccrued.Add(a.Interest.OrZero())
	if s.Charges.Fee.Changed() {
		a.Fee = component(s, s.Charges.FeeTotal.Sub(s.FeeAccrued).Sub(s.CreditedFee))
		a.Cumulative.Fee = s.FeeAccrued.Add(a.Fee.OrZero())
	}
	if s.Charges.Penalty.Changed() {
		a.Penalty = component(s, s.Charges.PenaltyTotal.Sub(s.PenaltyAccrued).Sub(s.CreditedPenalty))
		a.Cumulative.Penalty = s.PenaltyAccrued.Add(a.Penalty.OrZero())
	}
	a.Charges = allocate(s.Charges.Charges, a.Fee, a.Penalty)
	return a
}

// allocate caps the charge deltas at the booked fee and penalty, in charge order.
// A component that books nothing keeps no allocations.
func allocate(charges []ChargeDelta, fee, penalty Delta) []ChargeDelta {
	left := map[bool]decimal.Decimal{false: fee.OrZero(), true: penalty.OrZero()}
	var out []ChargeDelta
	for _, cd := range charges {
		rest := left[cd.Penalty]
		if !rest.IsPositive() {
			continue
		}
		cd.Amount = decimal.Min(cd.Amount, rest)
		left[cd.Penalty] = rest.Sub(cd.Amount)
		out = append(out, cd)
	}
	return out
}

// InterestAccruedTill prorates the snapshot's accruable interest by days elapsed
// to till, never starting before the loan's interest-charged-from date.
func InterestAccruedTill(s Snapshot, till time.Time) decimal.Decimal {
	interestStart := s.FromDate
	start := s.FromDate
	if icf := s.InterestCalculatedFrom; icf != nil && s.FromDate.Before(*icf) {
		interestStart = s.DueDate
		if icf.Before(s.DueDate) {
			interestStart = *icf
		}
		start = till
		if icf.Before(till) {
			start = *icf
		}
	}
	totalDays := models.DaysBetween(interestStart, s.DueDate)
	days := models.DaysBetween(start, till)
	if totalDays <= 0 || days >= totalDays {
		return s.AccruableInterest
	}
	if days <= 0 {
		return decimal.Zero
	}
	prorated := s.AccruableInterest.
		Div(decimal.NewFromInt(int64(totalDays))).
		Mul(decimal.NewFromInt(int64(days)))
	return s.Currency.Round(prorated)
}

// Compute runs the periodic accrual pass for loan up to till: installments due by
// till accrue in full, the one straddling till accrues pro rata.
func Compute(loan *models.Loan, till, businessDate time.Time, cfg config.Config) ([]Accrual, error) {
	return ComputeSnapshots(loan, BuildSnapshots(loan, till, cfg), till, businessDate, cfg)
}

// ComputeSnapshots runs the periodic pass over preselected snapshots.
func ComputeSnapshots(loan *models.Loan, snaps []Snapshot, till, businessDate time.Time, cfg config.Config) ([]Accrual, error) {
	charges := loan.ActiveCharges()
	periods := WaivedPeriods(loan)
	waivers := WaiverTransactions(loan)

	var out []Accrual
	for _, s := range snaps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("failed to accrue loan %s: %w", loan.ID, err)
		}
		partial := s.DueDate.After(till)
		if partial && s.AccruedTill != nil && !s.AccruedTill.Before(till) {
			continue
		}
		end := s.DueDate
		if partial {
			end = till
		}
		s.Charges = ApportionCharges(s, charges, s.FromDate, end, cfg)
		income, err := AccruableInterest(s, periods, waivers, till)
		if err != nil {
			return nil, fmt.Errorf("failed to accrue loan %s: %w", loan.ID, err)
		}
		s.AccruableInterest = income
		if partial {
			out = append(out, PartialPeriod(s, till))
			continue
		}
		out = append(out, FullPeriod(s, businessDate, cfg))
	}
	return out, nil
}

// ComputeFull accrues every installment due by till in full, posting on due dates.
// Used when accounting is switched to accrual on an existing loan.
func ComputeFull(loan *models.Loan, till time.Time, cfg config.Config) ([]Accrual, error) {
	charges := loan.ActiveCharges()
	periods := WaivedPeriods(loan)
	waivers := WaiverTransactions(loan)

	var out []Accrual
	for _, s := range BuildSnapshots(loan, till, cfg) {
		if s.DueDate.After(till) {
			continue
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("failed to accrue loan %s: %w", loan.ID, err)
		}
		s.Charges = ApportionCharges(s, charges, s.FromDate, s.DueDate, cfg)
		income, err := AccruableInterest(s, periods, waivers, s.DueDate)
		if err != nil {
			return nil, fmt.Errorf("failed to accrue loan %s: %w", loan.ID, err)
		}
		s.AccruableInterest = income
		out = append(out, FullPeriod(s, till, cfg))
	}
	return out, nil
}
