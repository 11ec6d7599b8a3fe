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

func newLessonRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func lessonRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "participant_id", "lesson_date", "start_time", "duration_minutes", "zone",
		"status", "payment_status", "recurrence_type", "series_id", "series_end_date",
		"day_set", "is_makeup", "meeting_link", "cancel_reason",
		"audit_previous_slot", "audit_reason", "audit_penalty_charged", "audit_acted_at",
		"created_at", "updated_at",
	})
}

func TestLessonRepositoryList(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	rows := lessonRows().
		AddRow("l1", "p1", "2026-01-05", "10:00", 60, "UTC", "UPCOMING", "UNPAID", "NONE",
			nil, nil, nil, false, nil, nil, nil, nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, participant_id, lesson_date, .+ FROM lessons WHERE 1=1 AND participant_id = \\$1 ORDER BY lesson_date ASC, start_time ASC LIMIT 20 OFFSET 0").
		WithArgs("p1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lessons WHERE 1=1 AND participant_id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	lessons, total, err := repo.List(context.Background(), models.LessonFilter{ParticipantID: "p1"})
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListActiveBetweenExcludesCancelled(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectQuery("SELECT .+ FROM lessons WHERE lesson_date >= \\$1 AND lesson_date <= \\$2 AND status NOT IN \\(\\$3, \\$4\\)").
		WithArgs("2026-01-04", "2026-01-06", models.LessonStatusCancelledByParticipant, models.LessonStatusCancelledByProvider).
		WillReturnRows(lessonRows())

	lessons, err := repo.ListActiveBetween(context.Background(), "2026-01-04", "2026-01-06")
	require.NoError(t, err)
	assert.Empty(t, lessons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec("INSERT INTO lessons").
		WillReturnResult(sqlmock.NewResult(1, 1))

	lesson := &models.LessonInstance{
		ParticipantID:   "p1",
		Date:            "2026-01-05",
		StartTime:       "10:00",
		DurationMinutes: 60,
		Zone:            "UTC",
	}
	require.NoError(t, repo.Create(context.Background(), lesson))
	assert.NotEmpty(t, lesson.ID)
	assert.Equal(t, models.LessonStatusUpcoming, lesson.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, lesson.PaymentStatus)
	assert.Equal(t, models.RecurrenceNone, lesson.RecurrenceType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryUpdateStatusMissingRow(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec("UPDATE lessons SET status =").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), db, "missing", models.LessonStatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryAttachAudit(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec("UPDATE lessons SET audit_previous_slot =").
		WithArgs("2026-01-05 10:00 (UTC)", "sick", true, sqlmock.AnyArg(), sqlmock.AnyArg(), "l1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AttachAudit(context.Background(), db, "l1", models.AuditRecord{
		PreviousSlot:   "2026-01-05 10:00 (UTC)",
		Reason:         "sick",
		PenaltyCharged: true,
		ActedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryCancelSeriesFromDate(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db)

	mock.ExpectExec("UPDATE lessons SET status = \\$1, cancel_reason = \\$2").
		WithArgs(models.LessonStatusCancelledByProvider, "split", sqlmock.AnyArg(), "series-1", "2026-01-19",
			models.LessonStatusCancelledByParticipant, models.LessonStatusCancelledByProvider).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.CancelSeriesFromDate(context.Background(), db, "series-1", "2026-01-19", models.LessonStatusCancelledByProvider, "split")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
