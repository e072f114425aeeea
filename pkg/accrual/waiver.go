package accrual

import (
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

// WaivedPeriod is an installment that had interest waived.
type WaivedPeriod struct {
	InstallmentNumber int
	DueDate           time.Time
	InterestWaived    decimal.Decimal
}

// WaiverTransaction splits a waiver between interest already recognized as income
// and interest that was never recognized.
type WaiverTransaction struct {
	Date                time.Time
	InterestPortion     decimal.Decimal
	UnrecognizedPortion decimal.Decimal
}

// WaivedPeriods lists installments with waived interest in installment order.
func WaivedPeriods(loan *models.Loan) []WaivedPeriod {
	var out []WaivedPeriod
	for _, inst := range loan.Installments {
		if inst.InterestWaived.IsZero() {
			continue
		}
		out = append(out, WaivedPeriod{
			InstallmentNumber: inst.Number,
			DueDate:           inst.DueDate,
			InterestWaived:    inst.InterestWaived,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].InstallmentNumber < out[j].InstallmentNumber })
	return out
}

// WaiverTransactions lists the loan's live interest waivers in date order.
func WaiverTransactions(loan *models.Loan) []WaiverTransaction {
	var out []WaiverTransaction
	for _, tx := range loan.WaiverTransactions() {
		out = append(out, WaiverTransaction{
			Date:                tx.Date,
			InterestPortion:     tx.InterestPortion,
			UnrecognizedPortion: tx.UnrecognizedIncomePortion,
		})
	}
	return out
}

// WaiversInRange keeps waivers dated on or before the snapshot's start, or inside
// its period up to till.
func WaiversInRange(s Snapshot, txns []WaiverTransaction, till time.Time) []WaiverTransaction {
	end := s.DueDate
	if till.Before(end) {
		end = till
	}
	var out []WaiverTransaction
	for _, tx := range txns {
		if !tx.Date.After(s.FromDate) || !tx.Date.After(end) {
			out = append(out, tx)
		}
	}
	return out
}

// RecognizedWaivedInterest depletes waived interest of periods due before targetDue
// from the waiver transactions' recognized pool first, then their unrecognized pool,
// and returns what is left of the recognized pool.
func RecognizedWaivedInterest(targetDue time.Time, periods []WaivedPeriod, txns []WaiverTransaction) decimal.Decimal {
	recognized := decimal.Zero
	unrecognized := decimal.Zero
	remaining := decimal.Zero
	next := 0
	for _, p := range periods {
		if !recognized.IsPositive() && !unrecognized.IsPositive() && next < len(txns) {
			recognized = recognized.Add(txns[next].InterestPortion)
			unrecognized = unrecognized.Add(txns[next].UnrecognizedPortion)
			next++
		}
		if !p.DueDate.Before(targetDue) {
			continue
		}
		remaining = remaining.Add(p.InterestWaived)
		if recognized.GreaterThan(remaining) {
			recognized = recognized.Sub(remaining)
			remaining = decimal.Zero
			continue
		}
		remaining = remaining.Sub(recognized)
		recognized = decimal.Zero
		if unrecognized.GreaterThanOrEqual(remaining) {
			unrecognized = unrecognized.Sub(remaining)
			remaining = decimal.Zero
		} else if next < len(txns) {
			remaining = remaining.Sub(unrecognized)
			unrecognized = decimal.Zero
		}
	}
	return recognized
}

// AccruableInterest is the interest due on the snapshot's installment net of the
// waived part that was never recognized as income, floored at zero.
func AccruableInterest(s Snapshot, periods []WaivedPeriod, txns []WaiverTransaction, till time.Time) (decimal.Decimal, error) {
	income := s.money(s.InterestDue)
	waived := s.money(s.InterestWaived)
	if !waived.IsGreaterThanZero() {
		return income.Amount, nil
	}
	recognized := s.money(RecognizedWaivedInterest(s.DueDate, periods, WaiversInRange(s, txns, till)))
	if !recognized.IsLessThan(waived) {
		return income.Amount, nil
	}
	unrecognized, err := waived.Minus(recognized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: installment %d: %v", ErrComputation, s.InstallmentNumber, err)
	}
	net, err := income.Minus(unrecognized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: installment %d: %v", ErrComputation, s.InstallmentNumber, err)
	}
	return net.NegativeToZero().Amount, nil
}
