package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := dialectFor("pgx")
	require.NoError(t, err)
	return newSQLStore(db, d), mock
}

func TestDialect_Rebind(t *testing.T) {
	pg, err := dialectFor("postgres")
	require.NoError(t, err)
	lite, err := dialectFor("sqlite3")
	require.NoError(t, err)

	q := "UPDATE loans SET status = ? WHERE id = ?"
	assert.Equal(t, "UPDATE loans SET status = $1 WHERE id = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
	assert.Equal(t, "id UUID, amount NUMERIC(19,6)", pg.ddl("id $uuid, amount $decimal"))
	assert.Equal(t, "id TEXT, amount TEXT", lite.ddl("id $uuid, amount $decimal"))
}

func TestPostgresStore_GetAccrualLoanIDs(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT l.id FROM loans l\s+WHERE l.status = \$1 AND l.accounting_rule = \$2`).
		WithArgs("active", "accrual_periodic", false, false, false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))

	ids, err := s.GetAccrualLoanIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLoanLocksRow(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM loans WHERE id = \$1 FOR UPDATE`).
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetLoan(context.Background(), id)
		return err
	})
	assert.ErrorIs(t, err, ErrLoanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLoanFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	loan := newTestLoan()
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE loans SET status = \$1`).WillReturnError(boom)
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SaveLoan(context.Background(), loan)
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLoanMissingRow(t *testing.T) {
	s, mock := newMockStore(t)
	loan := newTestLoan()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE loans SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SaveLoan(context.Background(), loan)
	})
	assert.ErrorIs(t, err, ErrLoanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
