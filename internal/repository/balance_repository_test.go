package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBalanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestBalanceRepositoryAdjustCreditCreatesMissingRow(t *testing.T) {
	db, mock, cleanup := newBalanceRepoMock(t)
	defer cleanup()
	repo := NewBalanceRepository(db)

	// Upsert: a participant without a balance row still gets charged.
	mock.ExpectExec("(?s)INSERT INTO participant_balances.+ON CONFLICT \\(participant_id\\) DO UPDATE").
		WithArgs("participant-1", -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AdjustCredit(context.Background(), db, "participant-1", -1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepositoryGetCredits(t *testing.T) {
	db, mock, cleanup := newBalanceRepoMock(t)
	defer cleanup()
	repo := NewBalanceRepository(db)

	mock.ExpectQuery("SELECT credits FROM participant_balances").
		WithArgs("participant-1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(4))

	credits, err := repo.GetCredits(context.Background(), "participant-1")
	require.NoError(t, err)
	assert.Equal(t, 4, credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
