package accrual

import (
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
)

// Delta is the outcome for one accrual component: NoChange, or an amount to book.
type Delta struct {
	amount  money.Money
	changed bool
}

// NoChange is the "not applicable" outcome; it is never booked.
func NoChange() Delta {
	return Delta{}
}

// Amount books m. A zero amount collapses to NoChange.
func Amount(m money.Money) Delta {
	if m.IsZero() {
		return NoChange()
	}
	return Delta{amount: m, changed: true}
}

func (d Delta) Changed() bool { return d.changed }

// Value returns the booked amount and whether there is one.
func (d Delta) Value() (money.Money, bool) {
	return d.amount, d.changed
}

// OrZero returns the booked amount, or zero for NoChange.
func (d Delta) OrZero() decimal.Decimal {
	if !d.changed {
		return decimal.Zero
	}
	return d.amount.Amount
}

func (d Delta) String() string {
	if !d.changed {
		return "NoChange"
	}
	return "Delta(" + d.amount.String() + ")"
}
