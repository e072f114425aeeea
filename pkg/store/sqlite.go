package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// NewSQLiteStore opens a SQLite database through the cgo driver and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	return Open("sqlite3", dataSourceName)
}

// NewPureSQLiteStore is NewSQLiteStore on the pure Go driver, for builds without cgo.
func NewPureSQLiteStore(dataSourceName string) (*SQLStore, error) {
	return Open("sqlite", dataSourceName)
}

func prepareSQLite(db *sql.DB) error {
	// One writer keeps the per-loan transactions from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return nil
}

// schema is written with $type tokens that each dialect replaces. Decimal fields
// are TEXT on SQLite so no precision is lost.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS loans (
		id $uuid PRIMARY KEY,
		product_id $bigint NOT NULL,
		office_id $bigint NOT NULL,
		currency_code TEXT NOT NULL,
		currency_digits INTEGER NOT NULL,
		status TEXT NOT NULL,
		accounting_rule TEXT NOT NULL,
		interest_rate $decimal NOT NULL,
		is_npa BOOLEAN NOT NULL DEFAULT FALSE,
		is_charged_off BOOLEAN NOT NULL DEFAULT FALSE,
		interest_recalculation BOOLEAN NOT NULL DEFAULT FALSE,
		compounding_as_income BOOLEAN NOT NULL DEFAULT FALSE,
		compounding_method TEXT NOT NULL DEFAULT 'none',
		disbursement_date $timestamp NOT NULL,
		maturity_date $timestamp NOT NULL,
		interest_charged_from $timestamp,
		accrued_till $timestamp,
		closed_on $timestamp,
		created_at $timestamp NOT NULL,
		updated_at $timestamp NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS installments (
		loan_id $uuid NOT NULL REFERENCES loans(id),
		number INTEGER NOT NULL,
		from_date $timestamp NOT NULL,
		due_date $timestamp NOT NULL,
		is_down_payment BOOLEAN NOT NULL DEFAULT FALSE,
		principal $decimal NOT NULL,
		interest_charged $decimal NOT NULL,
		fee_charges_charged $decimal NOT NULL,
		penalty_charges_charged $decimal NOT NULL,
		interest_waived $decimal NOT NULL,
		fee_charges_waived $decimal NOT NULL,
		penalty_charges_waived $decimal NOT NULL,
		interest_written_off $decimal NOT NULL,
		fee_charges_written_off $decimal NOT NULL,
		penalty_charges_written_off $decimal NOT NULL,
		interest_accrued $decimal NOT NULL,
		fee_accrued $decimal NOT NULL,
		penalty_accrued $decimal NOT NULL,
		credited_fee $decimal NOT NULL,
		credited_penalty $decimal NOT NULL,
		PRIMARY KEY (loan_id, number)
	)`,
	`CREATE TABLE IF NOT EXISTS loan_charges (
		id $bigint PRIMARY KEY,
		loan_id $uuid NOT NULL REFERENCES loans(id),
		charge_id $bigint NOT NULL,
		is_penalty BOOLEAN NOT NULL,
		is_installment_fee BOOLEAN NOT NULL,
		is_active BOOLEAN NOT NULL,
		is_paid BOOLEAN NOT NULL,
		due_date $timestamp,
		submitted_on $timestamp NOT NULL,
		amount $decimal NOT NULL,
		amount_accrued $decimal NOT NULL,
		amount_unrecognized $decimal NOT NULL,
		amount_waived $decimal NOT NULL,
		amount_outstanding $decimal NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS installment_charges (
		loan_charge_id $bigint NOT NULL REFERENCES loan_charges(id),
		installment_number INTEGER NOT NULL,
		amount $decimal NOT NULL,
		amount_accrued $decimal NOT NULL,
		amount_unrecognized $decimal NOT NULL,
		amount_waived $decimal NOT NULL,
		PRIMARY KEY (loan_charge_id, installment_number)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id $bigint PRIMARY KEY,
		loan_id $uuid NOT NULL REFERENCES loans(id),
		office_id $bigint NOT NULL,
		external_id TEXT UNIQUE,
		type TEXT NOT NULL,
		txn_date $timestamp NOT NULL,
		amount $decimal NOT NULL,
		principal_portion $decimal NOT NULL,
		interest_portion $decimal NOT NULL,
		fee_portion $decimal NOT NULL,
		penalty_portion $decimal NOT NULL,
		is_reversed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at $timestamp NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_loan ON transactions(loan_id)`,
	`CREATE TABLE IF NOT EXISTS charges_paid_by (
		transaction_id $bigint NOT NULL REFERENCES transactions(id),
		loan_charge_id $bigint NOT NULL REFERENCES loan_charges(id),
		amount $decimal NOT NULL,
		installment_number INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS compounding_details (
		loan_id $uuid NOT NULL REFERENCES loans(id),
		installment_number INTEGER NOT NULL,
		effective_date $timestamp NOT NULL,
		amount $decimal NOT NULL
	)`,
}

// columnMigration adds a column that databases created by earlier releases lack.
// SQLite has no ADD COLUMN IF NOT EXISTS, so a duplicate column is ignored instead.
type columnMigration struct {
	table  string
	column string
}

var migrations = []columnMigration{
	{"loans", "overpaid_on $timestamp"},
	{"transactions", "unrecognized_income_portion $decimal NOT NULL DEFAULT '0'"},
}

// initSchema creates the tables on a new database and brings older ones up to date.
func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, s.dialect.ddl(stmt)); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		col := s.dialect.ddl(m.column)
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.addColumn, m.table, col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

// isDuplicateColumnError matches the message both SQLite drivers return for an
// ADD COLUMN on an existing column.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate column name")
}
