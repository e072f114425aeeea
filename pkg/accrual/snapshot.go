package accrual

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/config"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
)

// Snapshot is a read view of one installment plus the loan fields an accrual
// pass needs. ApportionCharges and AccruableInterest annotate it in place.
type Snapshot struct {
	LoanID                 uuid.UUID
	OfficeID               int64
	ProductID              int64
	InstallmentNumber      int
	FirstInstallment       bool
	FromDate               time.Time
	DueDate                time.Time
	InterestCalculatedFrom *time.Time
	AccruedTill            *time.Time
	Currency               money.Currency

	InterestDue     decimal.Decimal
	FeeDue          decimal.Decimal
	PenaltyDue      decimal.Decimal
	InterestAccrued decimal.Decimal
	FeeAccrued      decimal.Decimal
	PenaltyAccrued  decimal.Decimal
	InterestWaived  decimal.Decimal
	CreditedFee     decimal.Decimal
	CreditedPenalty decimal.Decimal

	AccruableInterest decimal.Decimal
	Charges           Apportionment
}

func newSnapshot(loan *models.Loan, inst models.Installment, cfg config.Config) Snapshot {
	cur := loan.Currency
	cur.Rounding = cfg.RoundingMode
	return Snapshot{
		LoanID:                 loan.ID,
		OfficeID:               loan.OfficeID,
		ProductID:              loan.ProductID,
		InstallmentNumber:      inst.Number,
		FirstInstallment:       inst.Number == loan.FirstNormalInstallmentNumber(),
		FromDate:               inst.FromDate,
		DueDate:                inst.DueDate,
		InterestCalculatedFrom: loan.InterestChargedFrom,
		AccruedTill:            loan.AccruedTill,
		Currency:               cur,
		InterestDue:            inst.InterestCharged,
		FeeDue:                 inst.FeeChargesCharged,
		PenaltyDue:             inst.PenaltyChargesCharged,
		InterestAccrued:        inst.InterestAccrued,
		FeeAccrued:             inst.FeeAccrued,
		PenaltyAccrued:         inst.PenaltyAccrued,
		InterestWaived:         inst.InterestWaived,
		CreditedFee:            inst.CreditedFee,
		CreditedPenalty:        inst.CreditedPenalty,
	}
}

// Validate rejects snapshots that cannot be accrued.
func (s Snapshot) Validate() error {
	if err := s.Currency.Validate(); err != nil {
		return fmt.Errorf("%w: installment %d: %v", ErrComputation, s.InstallmentNumber, err)
	}
	if s.FromDate.After(s.DueDate) {
		return fmt.Errorf("%w: installment %d starts %s after its due date %s",
			ErrValidation, s.InstallmentNumber, s.FromDate.Format(time.DateOnly), s.DueDate.Format(time.DateOnly))
	}
	amounts := map[string]decimal.Decimal{
		"interest due":     s.InterestDue,
		"fee due":          s.FeeDue,
		"penalty due":      s.PenaltyDue,
		"interest accrued": s.InterestAccrued,
		"fee accrued":      s.FeeAccrued,
		"penalty accrued":  s.PenaltyAccrued,
		"interest waived":  s.InterestWaived,
	}
	for name, v := range amounts {
		if v.IsNegative() {
			return fmt.Errorf("%w: installment %d has negative %s %s", ErrValidation, s.InstallmentNumber, name, v)
		}
	}
	return nil
}

func (s Snapshot) money(d decimal.Decimal) money.Money {
	return money.Of(s.Currency, d)
}

// Eligible reports whether a loan takes part in periodic accrual at all.
func Eligible(loan *models.Loan) bool {
	return loan.IsActive() &&
		loan.IsPeriodicAccrual() &&
		!loan.NPA &&
		!loan.ChargedOff &&
		!loan.CompoundingAsIncome
}

// BuildSnapshots selects the installments of loan that still owe an accrual as of till,
// in due-date order. Ineligible loans yield no snapshots.
func BuildSnapshots(loan *models.Loan, till time.Time, cfg config.Config) []Snapshot {
	if !Eligible(loan) {
		return nil
	}
	first := loan.FirstNormalInstallmentNumber()
	var out []Snapshot
	for _, inst := range loan.Installments {
		if inst.FullyAccrued() {
			continue
		}
		if cfg.OrganisationStartDate != nil && !inst.DueDate.After(*cfg.OrganisationStartDate) {
			continue
		}
		if !cfg.SubmittedDatePolicy() && !inWindow(inst, till, inst.Number == first) {
			continue
		}
		out = append(out, newSnapshot(loan, inst, cfg))
	}
	sortByDueDate(out)
	return out
}

func inWindow(inst models.Installment, till time.Time, first bool) bool {
	if !inst.DueDate.After(till) {
		return true
	}
	if inst.FromDate.Before(till) {
		return true
	}
	return first && inst.FromDate.Equal(till)
}

// BuildRecalculationSnapshots selects installments for an interest-recalculation
// loan up to its watermark. Installments due after maturity accrue to businessDate,
// which is then returned as the effective till date.
func BuildRecalculationSnapshots(loan *models.Loan, businessDate time.Time, cfg config.Config) ([]Snapshot, time.Time) {
	if !loan.IsPeriodicAccrual() || !loan.InterestRecalculation || loan.AccruedTill == nil ||
		loan.NPA || !loan.IsActive() || loan.ChargedOff {
		return nil, time.Time{}
	}
	accruedTill := *loan.AccruedTill
	var out []Snapshot
	for _, inst := range loan.Installments {
		if inst.DueDate.After(loan.MaturityDate) {
			accruedTill = businessDate
		}
		if cfg.OrganisationStartDate != nil && !cfg.OrganisationStartDate.Before(inst.DueDate) {
			continue
		}
		covered := !accruedTill.Before(inst.DueDate)
		straddles := inst.FromDate.Before(accruedTill) && !accruedTill.After(inst.DueDate)
		if covered || straddles {
			out = append(out, newSnapshot(loan, inst, cfg))
		}
	}
	sortByDueDate(out)
	return out, accruedTill
}

func sortByDueDate(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].DueDate.Before(snaps[j].DueDate)
	})
}
