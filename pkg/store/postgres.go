package store

import (
	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresStore connects through pgx. Loan rows are locked with SELECT ... FOR UPDATE
// inside WithinTx, so concurrent passes over one loan serialize in the database too.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	return Open("pgx", dsn)
}
