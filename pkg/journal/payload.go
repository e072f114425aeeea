package journal

import (
	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/models"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Payload is the accounting bridge message for one loan.
type Payload struct {
	LoanID                                uuid.UUID         `json:"loanId"`
	LoanProductID                         int64             `json:"loanProductId,string"`
	OfficeID                              int64             `json:"officeId,string"`
	CurrencyCode                          string            `json:"currencyCode"`
	CashBasedAccountingEnabled            bool              `json:"cashBasedAccountingEnabled"`
	UpfrontAccrualBasedAccountingEnabled  bool              `json:"upfrontAccrualBasedAccountingEnabled"`
	PeriodicAccrualBasedAccountingEnabled bool              `json:"periodicAccrualBasedAccountingEnabled"`
	IsAccountTransfer                     bool              `json:"isAccountTransfer"`
	IsChargeOff                           bool              `json:"isChargeOff"`
	IsFraud                               bool              `json:"isFraud"`
	NewTransactions                       []TransactionData `json:"newTransactions"`
}

type TransactionData struct {
	ID                    int64            `json:"id,string"`
	OfficeID              int64            `json:"officeId,string"`
	ExternalID            string           `json:"externalId,omitempty"`
	Type                  string           `json:"type"`
	Reversed              bool             `json:"reversed"`
	Date                  string           `json:"date"`
	CurrencyCode          string           `json:"currencyCode"`
	Amount                decimal.Decimal  `json:"amount"`
	PrincipalPortion      decimal.Decimal  `json:"principalPortion"`
	InterestPortion       decimal.Decimal  `json:"interestPortion"`
	FeeChargesPortion     decimal.Decimal  `json:"feeChargesPortion"`
	PenaltyChargesPortion decimal.Decimal  `json:"penaltyChargesPortion"`
	ChargesPaid           []ChargePaidData `json:"chargesPaid,omitempty"`
}

type ChargePaidData struct {
	ChargeID          int64           `json:"chargeId,string"`
	IsPenalty         bool            `json:"isPenalty"`
	LoanChargeID      int64           `json:"loanChargeId,string"`
	Amount            decimal.Decimal `json:"amount"`
	InstallmentNumber *int            `json:"installmentNumber,omitempty"`
}

// NewPayload describes txs, posted or reversed on loan, for the accounting bridge.
func NewPayload(loan *models.Loan, txs ...*models.Transaction) Payload {
	p := Payload{
		LoanID:                                loan.ID,
		LoanProductID:                         loan.ProductID,
		OfficeID:                              loan.OfficeID,
		CurrencyCode:                          loan.Currency.Code,
		CashBasedAccountingEnabled:            loan.AccountingRule == models.AccountingCash,
		UpfrontAccrualBasedAccountingEnabled:  loan.AccountingRule == models.AccountingAccrualUpfront,
		PeriodicAccrualBasedAccountingEnabled: loan.AccountingRule == models.AccountingAccrualPeriodic,
		IsChargeOff:                           loan.ChargedOff,
	}
	for _, tx := range txs {
		data := TransactionData{
			ID:                    tx.ID,
			OfficeID:              tx.OfficeID,
			ExternalID:            tx.ExternalID,
			Type:                  string(tx.Type),
			Reversed:              tx.Reversed,
			Date:                  tx.Date.Format(dateLayout),
			CurrencyCode:          loan.Currency.Code,
			Amount:                tx.Amount,
			PrincipalPortion:      tx.PrincipalPortion,
			InterestPortion:       tx.InterestPortion,
			FeeChargesPortion:     tx.FeePortion,
			PenaltyChargesPortion: tx.PenaltyPortion,
		}
		for _, paid := range tx.ChargesPaid {
			cp := ChargePaidData{
				LoanChargeID:      paid.LoanChargeID,
				Amount:            paid.Amount,
				InstallmentNumber: paid.InstallmentNumber,
			}
			if c := loan.Charge(paid.LoanChargeID); c != nil {
				cp.ChargeID = c.ChargeID
				cp.IsPenalty = c.Penalty
			}
			data.ChargesPaid = append(data.ChargesPaid, cp)
		}
		p.NewTransactions = append(p.NewTransactions, data)
	}
	return p
}
