package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonloop/scheduling-api/internal/models"
)

func newProfileRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestProfileRepositoryGetProfile(t *testing.T) {
	db, mock, cleanup := newProfileRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT zone FROM provider_profiles WHERE provider_id = $1")).
		WithArgs("provider-1").
		WillReturnRows(sqlmock.NewRows([]string{"zone"}).AddRow("Europe/Berlin"))
	mock.ExpectQuery("SELECT id, day_of_week, start_time, end_time, active, .+ FROM availability_windows").
		WithArgs("provider-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "day_of_week", "start_time", "end_time", "active", "created_at", "updated_at"}).
			AddRow("w1", 1, "09:00", "12:00", true, time.Now(), time.Now()))
	mock.ExpectQuery("SELECT id, blackout_date, start_time, end_time, notes, .+ FROM blackout_exceptions").
		WithArgs("provider-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "blackout_date", "start_time", "end_time", "notes", "created_at"}))

	profile, err := repo.GetProfile(context.Background(), "provider-1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", profile.Zone)
	require.Len(t, profile.Windows, 1)
	assert.Equal(t, 1, profile.Windows[0].DayOfWeek)
	assert.Empty(t, profile.Blackouts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryReplaceWindows(t *testing.T) {
	db, mock, cleanup := newProfileRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO provider_profiles").
		WithArgs("provider-1", "Europe/Berlin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM availability_windows WHERE provider_id = $1")).
		WithArgs("provider-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO availability_windows").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	windows := []models.TimeWindow{{DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", Active: true}}
	require.NoError(t, repo.ReplaceWindows(context.Background(), "provider-1", "Europe/Berlin", windows))
	assert.NotEmpty(t, windows[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryDeleteBlackoutMissing(t *testing.T) {
	db, mock, cleanup := newProfileRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec("DELETE FROM blackout_exceptions").
		WithArgs("missing", "provider-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteBlackout(context.Background(), "provider-1", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}
