package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanaccrual/pkg/models"
)

// SQLStore keeps loan aggregates in a SQL database. Decimal amounts are written
// as their exact string form so no precision is lost on SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn rebinds placeholders for the dialect before delegating.
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// Open connects to driver ("sqlite3", "sqlite" or "pgx") and ensures the schema.
func Open(driver, dsn string) (*SQLStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if d.isSQLite() {
		if err := prepareSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := newSQLStore(db, d)
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

func (s *SQLStore) conn() conn {
	return conn{q: s.db, d: s.dialect}
}

const (
	loanColumns = `id, product_id, office_id, currency_code, currency_digits, status, accounting_rule,
		interest_rate, is_npa, is_charged_off, interest_recalculation, compounding_as_income, compounding_method,
		disbursement_date, maturity_date, interest_charged_from, accrued_till, closed_on, overpaid_on,
		created_at, updated_at`
	installmentColumns = `number, from_date, due_date, is_down_payment, principal,
		interest_charged, fee_charges_charged, penalty_charges_charged,
		interest_waived, fee_charges_waived, penalty_charges_waived,
		interest_written_off, fee_charges_written_off, penalty_charges_written_off,
		interest_accrued, fee_accrued, penalty_accrued, credited_fee, credited_penalty`
	chargeColumns = `id, charge_id, is_penalty, is_installment_fee, is_active, is_paid, due_date, submitted_on,
		amount, amount_accrued, amount_unrecognized, amount_waived, amount_outstanding`
	transactionColumns = `id, loan_id, office_id, external_id, type, txn_date, amount, principal_portion,
		interest_portion, fee_portion, penalty_portion, unrecognized_income_portion, is_reversed, created_at`
)

func placeholders(columns string) string {
	n := strings.Count(columns, ",") + 1
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// CreateLoan inserts a loan aggregate with all of its child rows.
func (s *SQLStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	return s.WithinTx(ctx, func(tx Tx) error {
		c := tx.(*sqlTx).c
		_, err := c.exec(ctx, `INSERT INTO loans (`+loanColumns+`) VALUES (`+placeholders(loanColumns)+`)`,
			loan.ID.String(), loan.ProductID, loan.OfficeID, loan.Currency.Code, loan.Currency.DecimalPlaces,
			string(loan.Status), string(loan.AccountingRule), loan.InterestRate, loan.NPA, loan.ChargedOff,
			loan.InterestRecalculation, loan.CompoundingAsIncome, string(compoundingMethod(loan)),
			loan.DisbursementDate, loan.MaturityDate, nullTime(loan.InterestChargedFrom), nullTime(loan.AccruedTill),
			nullTime(loan.ClosedOn), nullTime(loan.OverpaidOn), loan.CreatedAt, loan.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create loan: %w", err)
		}
		for _, inst := range loan.Installments {
			_, err := c.exec(ctx, `INSERT INTO installments (loan_id, `+installmentColumns+`) VALUES (?, `+placeholders(installmentColumns)+`)`,
				loan.ID.String(), inst.Number, inst.FromDate, inst.DueDate, inst.DownPayment, inst.Principal,
				inst.InterestCharged, inst.FeeChargesCharged, inst.PenaltyChargesCharged,
				inst.InterestWaived, inst.FeeChargesWaived, inst.PenaltyChargesWaived,
				inst.InterestWrittenOff, inst.FeeChargesWrittenOff, inst.PenaltyChargesWrittenOff,
				inst.InterestAccrued, inst.FeeAccrued, inst.PenaltyAccrued, inst.CreditedFee, inst.CreditedPenalty,
			)
			if err != nil {
				return fmt.Errorf("failed to create installment %d: %w", inst.Number, err)
			}
		}
		for _, ch := range loan.Charges {
			_, err := c.exec(ctx, `INSERT INTO loan_charges (loan_id, `+chargeColumns+`) VALUES (?, `+placeholders(chargeColumns)+`)`,
				loan.ID.String(), ch.ID, ch.ChargeID, ch.Penalty, ch.InstallmentFee, ch.Active, ch.Paid,
				nullTime(ch.DueDate), ch.SubmittedOn, ch.Amount, ch.AmountAccrued, ch.AmountUnrecognized,
				ch.AmountWaived, ch.AmountOutstanding,
			)
			if err != nil {
				return fmt.Errorf("failed to create charge %d: %w", ch.ID, err)
			}
			for _, ic := range ch.Installments {
				_, err := c.exec(ctx, `INSERT INTO installment_charges (loan_charge_id, installment_number, amount, amount_accrued, amount_unrecognized, amount_waived)
					VALUES (?, ?, ?, ?, ?, ?)`,
					ch.ID, ic.InstallmentNumber, ic.Amount, ic.AmountAccrued, ic.AmountUnrecognized, ic.AmountWaived,
				)
				if err != nil {
					return fmt.Errorf("failed to create installment charge %d/%d: %w", ch.ID, ic.InstallmentNumber, err)
				}
			}
		}
		for _, t := range loan.Transactions {
			if err := insertTransaction(ctx, c, t); err != nil {
				return err
			}
		}
		for _, cd := range loan.Compounding {
			_, err := c.exec(ctx, `INSERT INTO compounding_details (loan_id, installment_number, effective_date, amount) VALUES (?, ?, ?, ?)`,
				loan.ID.String(), cd.InstallmentNumber, cd.EffectiveDate, cd.Amount,
			)
			if err != nil {
				return fmt.Errorf("failed to create compounding detail: %w", err)
			}
		}
		return nil
	})
}

// GetLoan retrieves a loan aggregate by its ID.
func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return loadLoan(ctx, s.conn(), id, "")
}

func (s *SQLStore) GetAccrualLoanIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.conn().query(ctx, `SELECT l.id FROM loans l
		WHERE l.status = ? AND l.accounting_rule = ? AND l.is_npa = ? AND l.is_charged_off = ? AND l.compounding_as_income = ?
		AND EXISTS (SELECT 1 FROM installments i WHERE i.loan_id = l.id AND (
			i.interest_charged <> i.interest_accrued OR
			i.fee_charges_charged <> i.fee_accrued OR
			i.penalty_charges_charged <> i.penalty_accrued))
		ORDER BY l.id`,
		string(models.LoanStatusActive), string(models.AccountingAccrualPeriodic), false, false, false,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for accrual: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan loan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return ids, nil
}

// GetTransactionsForLoan retrieves all transactions of a loan, reversed ones included.
func (s *SQLStore) GetTransactionsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	return loadTransactions(ctx, s.conn(), loanID)
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqltx, err := s.db.BeginTx(ctx, s.dialect.txOptions)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqltx.Rollback()

	if err := fn(&sqlTx{c: conn{q: sqltx, d: s.dialect}}); err != nil {
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	c conn
}

func (t *sqlTx) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return loadLoan(ctx, t.c, id, t.c.d.lockSuffix)
}

func (t *sqlTx) SaveLoan(ctx context.Context, loan *models.Loan) error {
	c := t.c
	result, err := c.exec(ctx, `UPDATE loans SET status = ?, is_npa = ?, is_charged_off = ?, accrued_till = ?, closed_on = ?, overpaid_on = ?, updated_at = ? WHERE id = ?`,
		string(loan.Status), loan.NPA, loan.ChargedOff, nullTime(loan.AccruedTill), nullTime(loan.ClosedOn),
		nullTime(loan.OverpaidOn), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}

	for _, inst := range loan.Installments {
		_, err := c.exec(ctx, `UPDATE installments SET interest_accrued = ?, fee_accrued = ?, penalty_accrued = ? WHERE loan_id = ? AND number = ?`,
			inst.InterestAccrued, inst.FeeAccrued, inst.PenaltyAccrued, loan.ID.String(), inst.Number,
		)
		if err != nil {
			return fmt.Errorf("failed to update installment %d: %w", inst.Number, err)
		}
	}
	for _, ch := range loan.Charges {
		if _, err := c.exec(ctx, `UPDATE loan_charges SET amount_accrued = ? WHERE id = ?`, ch.AmountAccrued, ch.ID); err != nil {
			return fmt.Errorf("failed to update charge %d: %w", ch.ID, err)
		}
		for _, ic := range ch.Installments {
			_, err := c.exec(ctx, `UPDATE installment_charges SET amount_accrued = ? WHERE loan_charge_id = ? AND installment_number = ?`,
				ic.AmountAccrued, ch.ID, ic.InstallmentNumber,
			)
			if err != nil {
				return fmt.Errorf("failed to update installment charge %d/%d: %w", ch.ID, ic.InstallmentNumber, err)
			}
		}
	}

	stored, err := storedTransactionIDs(ctx, c, loan.ID)
	if err != nil {
		return err
	}
	for _, tx := range loan.Transactions {
		if stored[tx.ID] {
			if _, err := c.exec(ctx, `UPDATE transactions SET is_reversed = ? WHERE id = ?`, tx.Reversed, tx.ID); err != nil {
				return fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
			}
			continue
		}
		if err := insertTransaction(ctx, c, tx); err != nil {
			return err
		}
	}
	return nil
}

func storedTransactionIDs(ctx context.Context, c conn, loanID uuid.UUID) (map[int64]bool, error) {
	rows, err := c.query(ctx, `SELECT id FROM transactions WHERE loan_id = ?`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction ids for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func insertTransaction(ctx context.Context, c conn, t *models.Transaction) error {
	if t.ID == 0 {
		return fmt.Errorf("transaction for loan %s has no id", t.LoanID)
	}
	_, err := c.exec(ctx, `INSERT INTO transactions (`+transactionColumns+`) VALUES (`+placeholders(transactionColumns)+`)`,
		t.ID, t.LoanID.String(), t.OfficeID, nullString(t.ExternalID), string(t.Type), t.Date, t.Amount,
		t.PrincipalPortion, t.InterestPortion, t.FeePortion, t.PenaltyPortion, t.UnrecognizedIncomePortion,
		t.Reversed, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction %d: %w", t.ID, err)
	}
	for _, p := range t.ChargesPaid {
		_, err := c.exec(ctx, `INSERT INTO charges_paid_by (transaction_id, loan_charge_id, amount, installment_number) VALUES (?, ?, ?, ?)`,
			t.ID, p.LoanChargeID, p.Amount, nullInt(p.InstallmentNumber),
		)
		if err != nil {
			return fmt.Errorf("failed to create charge allocation for transaction %d: %w", t.ID, err)
		}
	}
	return nil
}

func loadLoan(ctx context.Context, c conn, id uuid.UUID, lockSuffix string) (*models.Loan, error) {
	var loan models.Loan
	var status, rule, method string
	var icf, accruedTill, closedOn, overpaidOn sql.NullTime

	row := c.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`+lockSuffix, id.String())
	err := row.Scan(&loan.ID, &loan.ProductID, &loan.OfficeID, &loan.Currency.Code, &loan.Currency.DecimalPlaces,
		&status, &rule, &loan.InterestRate, &loan.NPA, &loan.ChargedOff, &loan.InterestRecalculation,
		&loan.CompoundingAsIncome, &method, &loan.DisbursementDate, &loan.MaturityDate,
		&icf, &accruedTill, &closedOn, &overpaidOn, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	loan.Status = models.LoanStatus(status)
	loan.AccountingRule = models.AccountingRule(rule)
	loan.CompoundingMethod = models.CompoundingMethod(method)
	loan.InterestChargedFrom = timePtr(icf)
	loan.AccruedTill = timePtr(accruedTill)
	loan.ClosedOn = timePtr(closedOn)
	loan.OverpaidOn = timePtr(overpaidOn)

	if loan.Installments, err = loadInstallments(ctx, c, loan.ID); err != nil {
		return nil, err
	}
	if loan.Charges, err = loadCharges(ctx, c, loan.ID); err != nil {
		return nil, err
	}
	if loan.Transactions, err = loadTransactions(ctx, c, loan.ID); err != nil {
		return nil, err
	}
	if loan.Compounding, err = loadCompounding(ctx, c, loan.ID); err != nil {
		return nil, err
	}
	return &loan, nil
}

func loadInstallments(ctx context.Context, c conn, loanID uuid.UUID) ([]models.Installment, error) {
	rows, err := c.query(ctx, `SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY number`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var out []models.Installment
	for rows.Next() {
		var i models.Installment
		if err := rows.Scan(&i.Number, &i.FromDate, &i.DueDate, &i.DownPayment, &i.Principal,
			&i.InterestCharged, &i.FeeChargesCharged, &i.PenaltyChargesCharged,
			&i.InterestWaived, &i.FeeChargesWaived, &i.PenaltyChargesWaived,
			&i.InterestWrittenOff, &i.FeeChargesWrittenOff, &i.PenaltyChargesWrittenOff,
			&i.InterestAccrued, &i.FeeAccrued, &i.PenaltyAccrued, &i.CreditedFee, &i.CreditedPenalty); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return out, nil
}

func loadCharges(ctx context.Context, c conn, loanID uuid.UUID) ([]models.Charge, error) {
	rows, err := c.query(ctx, `SELECT `+chargeColumns+` FROM loan_charges WHERE loan_id = ? ORDER BY id`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get charges for loan %s: %w", loanID, err)
	}
	var out []models.Charge
	index := map[int64]int{}
	for rows.Next() {
		var ch models.Charge
		var due sql.NullTime
		if err := rows.Scan(&ch.ID, &ch.ChargeID, &ch.Penalty, &ch.InstallmentFee, &ch.Active, &ch.Paid, &due,
			&ch.SubmittedOn, &ch.Amount, &ch.AmountAccrued, &ch.AmountUnrecognized, &ch.AmountWaived,
			&ch.AmountOutstanding); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan charge row: %w", err)
		}
		ch.DueDate = timePtr(due)
		index[ch.ID] = len(out)
		out = append(out, ch)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error during rows iteration for charges: %w", err)
	}

	rows, err = c.query(ctx, `SELECT ic.loan_charge_id, ic.installment_number, ic.amount, ic.amount_accrued, ic.amount_unrecognized, ic.amount_waived
		FROM installment_charges ic JOIN loan_charges lc ON lc.id = ic.loan_charge_id
		WHERE lc.loan_id = ? ORDER BY ic.loan_charge_id, ic.installment_number`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installment charges for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var chargeID int64
		var ic models.InstallmentCharge
		if err := rows.Scan(&chargeID, &ic.InstallmentNumber, &ic.Amount, &ic.AmountAccrued, &ic.AmountUnrecognized, &ic.AmountWaived); err != nil {
			return nil, fmt.Errorf("failed to scan installment charge row: %w", err)
		}
		if i, ok := index[chargeID]; ok {
			out[i].Installments = append(out[i].Installments, ic)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installment charges: %w", err)
	}
	return out, nil
}

func loadTransactions(ctx context.Context, c conn, loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := c.query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE loan_id = ? ORDER BY txn_date, created_at, id`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	var out []*models.Transaction
	index := map[int64]*models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		var externalID sql.NullString
		var typ string
		if err := rows.Scan(&t.ID, &t.LoanID, &t.OfficeID, &externalID, &typ, &t.Date, &t.Amount,
			&t.PrincipalPortion, &t.InterestPortion, &t.FeePortion, &t.PenaltyPortion, &t.UnrecognizedIncomePortion,
			&t.Reversed, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		t.ExternalID = externalID.String
		t.Type = models.TransactionType(typ)
		index[t.ID] = &t
		out = append(out, &t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}

	rows, err = c.query(ctx, `SELECT p.transaction_id, p.loan_charge_id, p.amount, p.installment_number
		FROM charges_paid_by p JOIN transactions t ON t.id = p.transaction_id
		WHERE t.loan_id = ? ORDER BY p.transaction_id, p.loan_charge_id`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get charge allocations for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var txID int64
		var p models.ChargePaidBy
		var installment sql.NullInt64
		if err := rows.Scan(&txID, &p.LoanChargeID, &p.Amount, &installment); err != nil {
			return nil, fmt.Errorf("failed to scan charge allocation row: %w", err)
		}
		if installment.Valid {
			n := int(installment.Int64)
			p.InstallmentNumber = &n
		}
		if t, ok := index[txID]; ok {
			t.ChargesPaid = append(t.ChargesPaid, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for charge allocations: %w", err)
	}
	return out, nil
}

func loadCompounding(ctx context.Context, c conn, loanID uuid.UUID) ([]models.CompoundingDetail, error) {
	rows, err := c.query(ctx, `SELECT installment_number, effective_date, amount FROM compounding_details WHERE loan_id = ? ORDER BY effective_date`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get compounding details for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var out []models.CompoundingDetail
	for rows.Next() {
		var cd models.CompoundingDetail
		if err := rows.Scan(&cd.InstallmentNumber, &cd.EffectiveDate, &cd.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan compounding row: %w", err)
		}
		out = append(out, cd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for compounding details: %w", err)
	}
	return out, nil
}

func compoundingMethod(loan *models.Loan) models.CompoundingMethod {
	if loan.CompoundingMethod == "" {
		return models.CompoundingNone
	}
	return loan.CompoundingMethod
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
