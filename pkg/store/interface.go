package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/models"
)

var ErrLoanNotFound = errors.New("loan not found")

// Storage defines the interface for loading and saving loan aggregates.
type Storage interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// GetAccrualLoanIDs lists loans eligible for periodic accrual with at least one
	// installment not yet fully accrued.
	GetAccrualLoanIDs(ctx context.Context) ([]uuid.UUID, error)
	GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error)

	// WithinTx runs fn in a database transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the unit of work for one loan's accrual pass.
type Tx interface {
	// GetLoan loads the aggregate and locks it for the rest of the transaction.
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// SaveLoan writes the loan's watermark, accrual portions, charge accruals,
	// reversal flags and any transactions not stored yet.
	SaveLoan(ctx context.Context, loan *models.Loan) error
}
