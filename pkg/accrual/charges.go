package accrual

import (
	"time"

	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

// ChargeDelta is the amount of one charge that becomes recognized by a posting.
type ChargeDelta struct {
	LoanChargeID   int64
	ChargeID       int64
	Penalty        bool
	InstallmentFee bool
	Amount         decimal.Decimal
}

// Apportionment is the fee and penalty income recognized for an installment window,
// plus the per-charge deltas that make it up.
type Apportionment struct {
	FeeTotal     decimal.Decimal
	PenaltyTotal decimal.Decimal
	Fee          Delta
	Penalty      Delta
	Charges      []ChargeDelta
}

// ApportionCharges decides which charges fall into [start, end] for the snapshot's
// installment and how much of each is still unrecognized. The totals are gross
// recognizable amounts; the deltas are what has not been accrued yet.
func ApportionCharges(s Snapshot, charges []*models.Charge, start, end time.Time, cfg config.Config) Apportionment {
	a := Apportionment{FeeTotal: decimal.Zero, PenaltyTotal: decimal.Zero}
	for _, c := range charges {
		var amount decimal.Decimal
		switch {
		case c.InstallmentFee && c.DueDate == nil:
			if !end.Equal(s.DueDate) {
				continue
			}
			amount = installmentFeeIncome(s, c, &a)
		case c.DueDate == nil:
			continue
		case cfg.SubmittedDatePolicy():
			if !submittedDateInRange(s, c, start, end) {
				continue
			}
			amount = dueDateIncome(c, &a)
		default:
			if !dueDateInRange(s, c, start, end) {
				continue
			}
			amount = dueDateIncome(c, &a)
		}
		if c.Penalty {
			a.PenaltyTotal = a.PenaltyTotal.Add(amount)
		} else {
			a.FeeTotal = a.FeeTotal.Add(amount)
		}
	}
	a.Fee = Amount(s.money(a.FeeTotal))
	a.Penalty = Amount(s.money(a.PenaltyTotal))
	return a
}

func dueDateInRange(s Snapshot, c *models.Charge, start, end time.Time) bool {
	due := *c.DueDate
	startMatches := (s.FirstInstallment && due.Equal(start)) || due.After(start)
	return startMatches && !due.After(end)
}

func submittedDateInRange(s Snapshot, c *models.Charge, start, end time.Time) bool {
	due := *c.DueDate
	submitted := c.SubmittedOn
	startMatches := (s.FirstInstallment && start.Equal(submitted) && start.Equal(due)) || start.Before(due)
	return startMatches && !end.Before(submitted) && !s.DueDate.Before(due)
}

// dueDateIncome returns the recognizable amount of a dated charge and records
// the part that was not accrued yet.
func dueDateIncome(c *models.Charge, a *Apportionment) decimal.Decimal {
	remainder := c.Amount.Sub(c.AmountUnrecognized)
	if !remainder.IsPositive() {
		return decimal.Zero
	}
	if d := remainder.Sub(c.AmountAccrued); d.IsPositive() {
		a.Charges = append(a.Charges, ChargeDelta{
			LoanChargeID: c.ID,
			ChargeID:     c.ChargeID,
			Penalty:      c.Penalty,
			Amount:       d,
		})
	}
	return remainder
}

func installmentFeeIncome(s Snapshot, c *models.Charge, a *Apportionment) decimal.Decimal {
	ic := c.InstallmentCharge(s.InstallmentNumber)
	if ic == nil {
		return decimal.Zero
	}
	remainder := ic.Amount.Sub(ic.AmountUnrecognized)
	if !remainder.IsPositive() {
		return decimal.Zero
	}
	if d := remainder.Sub(ic.AmountAccrued); d.IsPositive() {
		a.Charges = append(a.Charges, ChargeDelta{
			LoanChargeID:   c.ID,
			ChargeID:       c.ChargeID,
			Penalty:        c.Penalty,
			InstallmentFee: true,
			Amount:         d,
		})
	}
	return remainder
}
