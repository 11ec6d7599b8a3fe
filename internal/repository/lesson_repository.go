package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/scheduling-api/internal/models"
)

const lessonColumns = `id, participant_id, lesson_date, start_time, duration_minutes, zone, status, payment_status, recurrence_type, series_id, series_end_date, day_set, is_makeup, meeting_link, cancel_reason, audit_previous_slot, audit_reason, audit_penalty_charged, audit_acted_at, created_at, updated_at`

// LessonRepository provides persistence for lesson instances.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository creates a new lesson repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// List returns lessons with optional filtering and pagination.
func (r *LessonRepository) List(ctx context.Context, filter models.LessonFilter) ([]models.LessonInstance, int, error) {
	base := "FROM lessons WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.ParticipantID != "" {
		conditions = append(conditions, fmt.Sprintf("participant_id = $%d", len(args)+1))
		args = append(args, filter.ParticipantID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.SeriesID != "" {
		conditions = append(conditions, fmt.Sprintf("series_id = $%d", len(args)+1))
		args = append(args, filter.SeriesID)
	}
	if filter.DateFrom != "" {
		conditions = append(conditions, fmt.Sprintf("lesson_date >= $%d", len(args)+1))
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		conditions = append(conditions, fmt.Sprintf("lesson_date <= $%d", len(args)+1))
		args = append(args, filter.DateTo)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY lesson_date ASC, start_time ASC LIMIT %d OFFSET %d", lessonColumns, base, size, offset)
	var lessons []models.LessonInstance
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lessons: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lessons: %w", err)
	}

	return lessons, total, nil
}

// FindByID loads a lesson by id.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.LessonInstance, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE id = $1", lessonColumns)
	var lesson models.LessonInstance
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// ListActiveBetween returns non-cancelled lessons whose wall-clock date falls
// in [from, to]. Callers pad the range by a day on each side so that bookings
// recorded in other zones still cover the viewer's day.
func (r *LessonRepository) ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error) {
	query := fmt.Sprintf("SELECT %s FROM lessons WHERE lesson_date >= $1 AND lesson_date <= $2 AND status NOT IN ($3, $4) ORDER BY lesson_date ASC, start_time ASC", lessonColumns)
	var lessons []models.LessonInstance
	if err := r.db.SelectContext(ctx, &lessons, query, from, to, models.LessonStatusCancelledByParticipant, models.LessonStatusCancelledByProvider); err != nil {
		return nil, fmt.Errorf("list active lessons: %w", err)
	}
	return lessons, nil
}

// Create stores a new lesson record.
func (r *LessonRepository) Create(ctx context.Context, lesson *models.LessonInstance) error {
	prepareLesson(lesson)
	if _, err := r.db.NamedExecContext(ctx, insertLessonQuery, lesson); err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// BulkCreateWithTx inserts many lessons using an existing transaction.
func (r *LessonRepository) BulkCreateWithTx(ctx context.Context, exec sqlx.ExtContext, lessons []models.LessonInstance) error {
	for i := range lessons {
		payload := lessons[i]
		prepareLesson(&payload)
		if _, err := sqlx.NamedExecContext(ctx, exec, insertLessonQuery, &payload); err != nil {
			return fmt.Errorf("bulk insert lesson: %w", err)
		}
		lessons[i] = payload
	}
	return nil
}

const insertLessonQuery = `INSERT INTO lessons (id, participant_id, lesson_date, start_time, duration_minutes, zone, status, payment_status, recurrence_type, series_id, series_end_date, day_set, is_makeup, meeting_link, cancel_reason, created_at, updated_at) VALUES (:id, :participant_id, :lesson_date, :start_time, :duration_minutes, :zone, :status, :payment_status, :recurrence_type, :series_id, :series_end_date, :day_set, :is_makeup, :meeting_link, :cancel_reason, :created_at, :updated_at)`

func prepareLesson(lesson *models.LessonInstance) {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	if lesson.Status == "" {
		lesson.Status = models.LessonStatusUpcoming
	}
	if lesson.PaymentStatus == "" {
		lesson.PaymentStatus = models.PaymentStatusUnpaid
	}
	if lesson.RecurrenceType == "" {
		lesson.RecurrenceType = models.RecurrenceNone
	}
	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
}

// UpdateStatus moves a lesson to a new lifecycle state.
func (r *LessonRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonStatus, cancelReason *string) error {
	res, err := exec.ExecContext(ctx, `UPDATE lessons SET status = $1, cancel_reason = COALESCE($2, cancel_reason), updated_at = $3 WHERE id = $4`, status, cancelReason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update lesson status: %w", err)
	}
	return requireRowAffected(res, "lesson", id)
}

// UpdateSlot moves a lesson to a new wall-clock slot.
func (r *LessonRepository) UpdateSlot(ctx context.Context, exec sqlx.ExtContext, id, date, startTime, zone string) error {
	res, err := exec.ExecContext(ctx, `UPDATE lessons SET lesson_date = $1, start_time = $2, zone = $3, updated_at = $4 WHERE id = $5`, date, startTime, zone, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update lesson slot: %w", err)
	}
	return requireRowAffected(res, "lesson", id)
}

// AttachAudit writes the embedded audit snapshot onto a lesson.
func (r *LessonRepository) AttachAudit(ctx context.Context, exec sqlx.ExtContext, id string, record models.AuditRecord) error {
	res, err := exec.ExecContext(ctx, `UPDATE lessons SET audit_previous_slot = $1, audit_reason = $2, audit_penalty_charged = $3, audit_acted_at = $4, updated_at = $5 WHERE id = $6`,
		record.PreviousSlot, record.Reason, record.PenaltyCharged, record.ActedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("attach lesson audit: %w", err)
	}
	return requireRowAffected(res, "lesson", id)
}

// CancelSeriesFromDate cancels all non-cancelled series siblings on or after a
// date and returns how many rows changed.
func (r *LessonRepository) CancelSeriesFromDate(ctx context.Context, exec sqlx.ExtContext, seriesID, fromDate string, status models.LessonStatus, reason string) (int64, error) {
	res, err := exec.ExecContext(ctx, `UPDATE lessons SET status = $1, cancel_reason = $2, updated_at = $3 WHERE series_id = $4 AND lesson_date >= $5 AND status NOT IN ($6, $7)`,
		status, reason, time.Now().UTC(), seriesID, fromDate, models.LessonStatusCancelledByParticipant, models.LessonStatusCancelledByProvider)
	if err != nil {
		return 0, fmt.Errorf("cancel series lessons: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel series lessons rows: %w", err)
	}
	return affected, nil
}
