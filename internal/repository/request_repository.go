package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/scheduling-api/internal/models"
)

const requestColumns = `id, lesson_id, proposed_slots, reason, status, zone, requested_by, created_at, updated_at`

// RequestRepository persists reschedule requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create stores a new reschedule request.
func (r *RequestRepository) Create(ctx context.Context, exec sqlx.ExtContext, request *models.RescheduleRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `INSERT INTO reschedule_requests (id, lesson_id, proposed_slots, reason, status, zone, requested_by, created_at, updated_at) VALUES (:id, :lesson_id, :proposed_slots, :reason, :status, :zone, :requested_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, request); err != nil {
		return fmt.Errorf("create reschedule request: %w", err)
	}
	return nil
}

// FindByID loads a reschedule request by id.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM reschedule_requests WHERE id = $1", requestColumns)
	var request models.RescheduleRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindPendingByLesson returns the open request for a lesson, if any.
func (r *RequestRepository) FindPendingByLesson(ctx context.Context, lessonID string) (*models.RescheduleRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM reschedule_requests WHERE lesson_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1", requestColumns)
	var request models.RescheduleRequest
	if err := r.db.GetContext(ctx, &request, query, lessonID, models.RequestStatusPending); err != nil {
		return nil, err
	}
	return &request, nil
}

// UpdateStatus moves a request to a terminal state.
func (r *RequestRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.RequestStatus) error {
	res, err := exec.ExecContext(ctx, `UPDATE reschedule_requests SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update reschedule request status: %w", err)
	}
	return requireRowAffected(res, "reschedule request", id)
}
