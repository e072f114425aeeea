package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/money"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive               LoanStatus = "active"
	LoanStatusClosedObligationsMet LoanStatus = "closed_obligations_met"
	LoanStatusOverpaid             LoanStatus = "overpaid"
	LoanStatusClosedWrittenOff     LoanStatus = "closed_written_off"
)

// AccountingRule is the income recognition mode of the loan's product.
type AccountingRule string

const (
	AccountingNone            AccountingRule = "none"
	AccountingCash            AccountingRule = "cash"
	AccountingAccrualUpfront  AccountingRule = "accrual_upfront"
	AccountingAccrualPeriodic AccountingRule = "accrual_periodic"
)

type CompoundingMethod string

const (
	CompoundingNone           CompoundingMethod = "none"
	CompoundingInterest       CompoundingMethod = "interest"
	CompoundingFee            CompoundingMethod = "fee"
	CompoundingInterestAndFee CompoundingMethod = "interest_and_fee"
)

type TransactionType string

const (
	TransactionTypeDisbursement  TransactionType = "disbursement"
	TransactionTypeRepayment     TransactionType = "repayment"
	TransactionTypeChargePayment TransactionType = "charge_payment"
	TransactionTypeWaiveInterest TransactionType = "waive_interest"
	TransactionTypeWaiveCharges  TransactionType = "waive_charges"
	TransactionTypeAccrual       TransactionType = "accrual"
	TransactionTypeIncomePosting TransactionType = "income_posting"
)

// Loan is the aggregate root. Installments, charges and transactions are owned
// child collections addressed by installment number and integer ids.
type Loan struct {
	ID                    uuid.UUID         `json:"id"`
	ProductID             int64             `json:"product_id"`
	OfficeID              int64             `json:"office_id"`
	Currency              money.Currency    `json:"currency"`
	Status                LoanStatus        `json:"status"`
	AccountingRule        AccountingRule    `json:"accounting_rule"`
	InterestRate          decimal.Decimal   `json:"interest_rate"`
	NPA                   bool              `json:"npa"`
	ChargedOff            bool              `json:"charged_off"`
	InterestRecalculation bool              `json:"interest_recalculation"`
	CompoundingAsIncome   bool              `json:"compounding_as_income"`
	CompoundingMethod     CompoundingMethod `json:"compounding_method"`
	DisbursementDate      time.Time         `json:"disbursement_date"`
	MaturityDate          time.Time         `json:"maturity_date"`
	InterestChargedFrom   *time.Time        `json:"interest_charged_from,omitempty"`
	AccruedTill           *time.Time        `json:"accrued_till,omitempty"` // latest fully accrued date
	ClosedOn              *time.Time        `json:"closed_on,omitempty"`
	OverpaidOn            *time.Time        `json:"overpaid_on,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`

	Installments []Installment       `json:"installments"`
	Charges      []Charge            `json:"charges"`
	Transactions []*Transaction      `json:"transactions"`
	Compounding  []CompoundingDetail `json:"compounding,omitempty"`
}

// Installment is one repayment period with its charged, waived and accrued components.
type Installment struct {
	Number                   int             `json:"number"`
	FromDate                 time.Time       `json:"from_date"`
	DueDate                  time.Time       `json:"due_date"`
	DownPayment              bool            `json:"down_payment,omitempty"`
	Principal                decimal.Decimal `json:"principal"`
	InterestCharged          decimal.Decimal `json:"interest_charged"`
	FeeChargesCharged        decimal.Decimal `json:"fee_charges_charged"`
	PenaltyChargesCharged    decimal.Decimal `json:"penalty_charges_charged"`
	InterestWaived           decimal.Decimal `json:"interest_waived"`
	FeeChargesWaived         decimal.Decimal `json:"fee_charges_waived"`
	PenaltyChargesWaived     decimal.Decimal `json:"penalty_charges_waived"`
	InterestWrittenOff       decimal.Decimal `json:"interest_written_off"`
	FeeChargesWrittenOff     decimal.Decimal `json:"fee_charges_written_off"`
	PenaltyChargesWrittenOff decimal.Decimal `json:"penalty_charges_written_off"`
	InterestAccrued          decimal.Decimal `json:"interest_accrued"`
	FeeAccrued               decimal.Decimal `json:"fee_accrued"`
	PenaltyAccrued           decimal.Decimal `json:"penalty_accrued"`
	CreditedFee              decimal.Decimal `json:"credited_fee"`
	CreditedPenalty          decimal.Decimal `json:"credited_penalty"`
}

// UpdateAccrualPortion replaces the cumulative accrued components.
func (i *Installment) UpdateAccrualPortion(interest, fee, penalty decimal.Decimal) {
	i.InterestAccrued = interest
	i.FeeAccrued = fee
	i.PenaltyAccrued = penalty
}

// FullyAccrued reports whether every component has accrued its charged amount.
func (i Installment) FullyAccrued() bool {
	return i.InterestCharged.Equal(i.InterestAccrued) &&
		i.FeeChargesCharged.Equal(i.FeeAccrued) &&
		i.PenaltyChargesCharged.Equal(i.PenaltyAccrued)
}

// Charge is a fee or penalty applied to the loan.
type Charge struct {
	ID                 int64               `json:"id"`
	ChargeID           int64               `json:"charge_id"` // charge definition
	Penalty            bool                `json:"penalty"`
	InstallmentFee     bool                `json:"installment_fee"`
	Active             bool                `json:"active"`
	Paid               bool                `json:"paid"`
	DueDate            *time.Time          `json:"due_date,omitempty"`
	SubmittedOn        time.Time           `json:"submitted_on"`
	Amount             decimal.Decimal     `json:"amount"`
	AmountAccrued      decimal.Decimal     `json:"amount_accrued"`
	AmountUnrecognized decimal.Decimal     `json:"amount_unrecognized"`
	AmountWaived       decimal.Decimal     `json:"amount_waived"`
	AmountOutstanding  decimal.Decimal     `json:"amount_outstanding"`
	Installments       []InstallmentCharge `json:"installments,omitempty"`
}

// InstallmentCharge is an installment fee's allocation to one installment.
type InstallmentCharge struct {
	InstallmentNumber  int             `json:"installment_number"`
	Amount             decimal.Decimal `json:"amount"`
	AmountAccrued      decimal.Decimal `json:"amount_accrued"`
	AmountUnrecognized decimal.Decimal `json:"amount_unrecognized"`
	AmountWaived       decimal.Decimal `json:"amount_waived"`
}

// DueInWindow reports whether the charge falls due in (from, to], or [from, to] when inclusive.
func (c Charge) DueInWindow(from, to time.Time, inclusive bool) bool {
	if c.DueDate == nil {
		return false
	}
	due := *c.DueDate
	if due.After(to) {
		return false
	}
	if inclusive {
		return !due.Before(from)
	}
	return due.After(from)
}

// EffectiveDueDate is the date a charge is attributed to when it has no due date.
func (c Charge) EffectiveDueDate() time.Time {
	if c.DueDate != nil {
		return *c.DueDate
	}
	return c.SubmittedOn
}

// InstallmentCharge returns the allocation for an installment, if any.
func (c *Charge) InstallmentCharge(number int) *InstallmentCharge {
	for i := range c.Installments {
		if c.Installments[i].InstallmentNumber == number {
			return &c.Installments[i]
		}
	}
	return nil
}

// ChargePaidBy allocates part of a transaction to a charge.
type ChargePaidBy struct {
	LoanChargeID      int64           `json:"loan_charge_id"`
	Amount            decimal.Decimal `json:"amount"`
	InstallmentNumber *int            `json:"installment_number,omitempty"`
}

type Transaction struct {
	ID                        int64           `json:"id"`
	LoanID                    uuid.UUID       `json:"loan_id"`
	OfficeID                  int64           `json:"office_id"`
	ExternalID                string          `json:"external_id,omitempty"`
	Type                      TransactionType `json:"type"`
	Date                      time.Time       `json:"date"`
	Amount                    decimal.Decimal `json:"amount"`
	PrincipalPortion          decimal.Decimal `json:"principal_portion"`
	InterestPortion           decimal.Decimal `json:"interest_portion"`
	FeePortion                decimal.Decimal `json:"fee_portion"`
	PenaltyPortion            decimal.Decimal `json:"penalty_portion"`
	UnrecognizedIncomePortion decimal.Decimal `json:"unrecognized_income_portion"`
	Reversed                  bool            `json:"reversed"`
	ChargesPaid               []ChargePaidBy  `json:"charges_paid,omitempty"`
	CreatedAt                 time.Time       `json:"created_at"`
}

// Reverse marks the transaction void. Reversed transactions are kept.
func (t *Transaction) Reverse() {
	t.Reversed = true
}

// IsNew reports a transaction not yet assigned a persistent id.
func (t *Transaction) IsNew() bool {
	return t.ID == 0
}

func (t *Transaction) IsRepaymentLike() bool {
	return t.Type == TransactionTypeRepayment || t.Type == TransactionTypeChargePayment
}

// CompoundingDetail is an amount compounded into the loan on an effective date.
type CompoundingDetail struct {
	InstallmentNumber int             `json:"installment_number"`
	EffectiveDate     time.Time       `json:"effective_date"`
	Amount            decimal.Decimal `json:"amount"`
}

func (l *Loan) IsActive() bool { return l.Status == LoanStatusActive }

func (l *Loan) IsPeriodicAccrual() bool { return l.AccountingRule == AccountingAccrualPeriodic }

func (l *Loan) IsInterestBearing() bool { return l.InterestRate.IsPositive() }

// Installment returns the installment with the given number.
func (l *Loan) Installment(number int) *Installment {
	for i := range l.Installments {
		if l.Installments[i].Number == number {
			return &l.Installments[i]
		}
	}
	return nil
}

// FirstNormalInstallmentNumber skips down-payment installments.
func (l *Loan) FirstNormalInstallmentNumber() int {
	for _, inst := range l.Installments {
		if !inst.DownPayment {
			return inst.Number
		}
	}
	return 1
}

// LastInstallment returns the last non down-payment installment.
func (l *Loan) LastInstallment() *Installment {
	for i := len(l.Installments) - 1; i >= 0; i-- {
		if !l.Installments[i].DownPayment {
			return &l.Installments[i]
		}
	}
	return nil
}

// InPeriod reports whether date belongs to the installment: the first installment
// includes its from date, later ones exclude it.
func (l *Loan) InPeriod(date time.Time, inst *Installment) bool {
	if date.After(inst.DueDate) {
		return false
	}
	if inst.Number == l.FirstNormalInstallmentNumber() {
		return !date.Before(inst.FromDate)
	}
	return date.After(inst.FromDate)
}

func (l *Loan) Charge(id int64) *Charge {
	for i := range l.Charges {
		if l.Charges[i].ID == id {
			return &l.Charges[i]
		}
	}
	return nil
}

// ActiveCharges returns pointers into the aggregate's charge collection.
func (l *Loan) ActiveCharges() []*Charge {
	var out []*Charge
	for i := range l.Charges {
		if l.Charges[i].Active {
			out = append(out, &l.Charges[i])
		}
	}
	return out
}

// TransactionsOf returns non-reversed transactions of a type in date order.
func (l *Loan) TransactionsOf(t TransactionType) []*Transaction {
	var out []*Transaction
	for _, tx := range l.Transactions {
		if !tx.Reversed && tx.Type == t {
			out = append(out, tx)
		}
	}
	sortTransactions(out)
	return out
}

func (l *Loan) AccrualTransactions() []*Transaction {
	return l.TransactionsOf(TransactionTypeAccrual)
}

func (l *Loan) IncomePostingTransactions() []*Transaction {
	return l.TransactionsOf(TransactionTypeIncomePosting)
}

func (l *Loan) WaiverTransactions() []*Transaction {
	return l.TransactionsOf(TransactionTypeWaiveInterest)
}

// AddTransaction appends a new child transaction owned by this loan.
func (l *Loan) AddTransaction(tx *Transaction) {
	tx.LoanID = l.ID
	if tx.OfficeID == 0 {
		tx.OfficeID = l.OfficeID
	}
	l.Transactions = append(l.Transactions, tx)
}

// SyncChargeAccruals rebuilds the accrued amount of every charge, and of every
// installment fee allocation, from the charge allocations of live accruals.
func (l *Loan) SyncChargeAccruals() {
	for i := range l.Charges {
		c := &l.Charges[i]
		c.AmountAccrued = decimal.Zero
		for j := range c.Installments {
			c.Installments[j].AmountAccrued = decimal.Zero
		}
	}
	for _, tx := range l.AccrualTransactions() {
		for _, p := range tx.ChargesPaid {
			c := l.Charge(p.LoanChargeID)
			if c == nil {
				continue
			}
			c.AmountAccrued = c.AmountAccrued.Add(p.Amount)
			if c.InstallmentFee && p.InstallmentNumber != nil {
				if ic := c.InstallmentCharge(*p.InstallmentNumber); ic != nil {
					ic.AmountAccrued = ic.AmountAccrued.Add(p.Amount)
				}
			}
		}
	}
}

// NewTransactions returns transactions added since the aggregate was loaded.
func (l *Loan) NewTransactions() []*Transaction {
	var out []*Transaction
	for _, tx := range l.Transactions {
		if tx.IsNew() {
			out = append(out, tx)
		}
	}
	return out
}

// TotalInterestCharged sums interest over the schedule.
func (l *Loan) TotalInterestCharged() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range l.Installments {
		total = total.Add(inst.InterestCharged)
	}
	return total
}

func sortTransactions(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date.Equal(txs[j].Date) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].Date.Before(txs[j].Date)
	})
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return Date(y, m, d)
}

// DaysBetween counts calendar days from a to b; negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
