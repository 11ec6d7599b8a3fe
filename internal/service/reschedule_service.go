package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/models"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/timezone"
)

type requestStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, request *models.RescheduleRequest) error
	FindByID(ctx context.Context, id string) (*models.RescheduleRequest, error)
	FindPendingByLesson(ctx context.Context, lessonID string) (*models.RescheduleRequest, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.RequestStatus) error
}

type seriesLessonStore interface {
	FindByID(ctx context.Context, id string) (*models.LessonInstance, error)
	ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonStatus, cancelReason *string) error
	UpdateSlot(ctx context.Context, exec sqlx.ExtContext, id, date, startTime, zone string) error
	AttachAudit(ctx context.Context, exec sqlx.ExtContext, id string, record models.AuditRecord) error
	CancelSeriesFromDate(ctx context.Context, exec sqlx.ExtContext, seriesID, fromDate string, status models.LessonStatus, reason string) (int64, error)
	BulkCreateWithTx(ctx context.Context, exec sqlx.ExtContext, lessons []models.LessonInstance) error
}

// RescheduleService drives the reschedule workflow: a participant proposes
// replacement slots, the provider approves one or rejects the request. It also
// owns the "this and following" series edit.
type RescheduleService struct {
	db        txBeginner
	lessons   seriesLessonStore
	requests  requestStore
	balances  balanceStore
	auditLogs auditWriter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	penalty   PenaltyConfig
	now       func() time.Time
}

// NewRescheduleService wires reschedule dependencies.
func NewRescheduleService(db txBeginner, lessons seriesLessonStore, requests requestStore, balances balanceStore, auditLogs auditWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, penalty PenaltyConfig) *RescheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if penalty.WindowHours <= 0 {
		penalty.WindowHours = 4
	}
	if penalty.Credits <= 0 {
		penalty.Credits = 1
	}
	return &RescheduleService{
		db:        db,
		lessons:   lessons,
		requests:  requests,
		balances:  balances,
		auditLogs: auditLogs,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		penalty:   penalty,
		now:       time.Now,
	}
}

// Request opens a reschedule request for an upcoming lesson and parks the
// lesson in the requested state until the provider decides.
func (s *RescheduleService) Request(ctx context.Context, actorID string, req dto.CreateRescheduleRequest) (*models.RescheduleRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	for _, slot := range req.ProposedSlots {
		if _, err := timezone.ToInstant(slot.Date, slot.Time, req.Zone); err != nil {
			return nil, err
		}
	}

	lesson, err := s.findLesson(ctx, req.LessonID)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusUpcoming {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot reschedule a lesson in state %s", lesson.Status))
	}
	if pending, err := s.requests.FindPendingByLesson(ctx, lesson.ID); err == nil && pending != nil {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, "lesson already has a pending reschedule request")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}

	slots, err := json.Marshal(req.ProposedSlots)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode proposed slots")
	}
	request := &models.RescheduleRequest{
		LessonID:      lesson.ID,
		ProposedSlots: slots,
		Reason:        req.Reason,
		Zone:          req.Zone,
		RequestedBy:   actorID,
		CreatedAt:     s.now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.requests.Create(ctx, tx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reschedule request")
	}
	if err := s.lessons.UpdateStatus(ctx, tx, lesson.ID, models.LessonStatusRescheduleRequested, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark lesson")
	}
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionRescheduleRequest,
		Resource:   "reschedule_request",
		ResourceID: &request.ID,
		NewValues:  slots,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reschedule request")
	}

	s.logger.Info("reschedule requested",
		zap.String("request_id", request.ID),
		zap.String("lesson_id", lesson.ID),
		zap.Int("proposed_slots", len(req.ProposedSlots)))
	return request, nil
}

// Approve moves the lesson to one of the proposed slots. The penalty is
// judged by when the participant submitted the request, not when the provider
// approves it, so a slow approval never charges a timely requester.
func (s *RescheduleService) Approve(ctx context.Context, actorID, requestID string, req dto.ApproveRescheduleRequest) (*dto.RescheduleDecisionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}

	request, err := s.findPendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	lesson, err := s.findLesson(ctx, request.LessonID)
	if err != nil {
		return nil, err
	}

	var proposed []models.ProposedSlot
	if err := json.Unmarshal(request.ProposedSlots, &proposed); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode proposed slots")
	}
	chosen := false
	for _, slot := range proposed {
		if slot.Date == req.Date && slot.Time == req.Time {
			chosen = true
			break
		}
	}
	if !chosen {
		return nil, appErrors.Clone(appErrors.ErrValidation, "chosen slot is not among the proposed slots")
	}

	candidate := *lesson
	candidate.Date = req.Date
	candidate.StartTime = req.Time
	candidate.Zone = request.Zone
	taken, err := s.slotTaken(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if taken {
		s.metrics.RecordCollision()
		return nil, appErrors.Clone(appErrors.ErrSlotTaken, fmt.Sprintf("slot %s is already taken", candidate.SlotDescription()))
	}

	penalised, err := withinPenaltyWindow(*lesson, request.CreatedAt.UTC(), s.penalty.WindowHours)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.lessons.UpdateSlot(ctx, tx, lesson.ID, req.Date, req.Time, request.Zone); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move lesson")
	}
	if err := s.lessons.UpdateStatus(ctx, tx, lesson.ID, models.LessonStatusUpcoming, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore lesson state")
	}

	actedAt := s.now().UTC()
	record := models.AuditRecord{
		PreviousSlot:   lesson.SlotDescription(),
		Reason:         request.Reason,
		PenaltyCharged: penalised,
		ActedAt:        actedAt,
	}
	if err := s.lessons.AttachAudit(ctx, tx, lesson.ID, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit snapshot")
	}
	if err := s.requests.UpdateStatus(ctx, tx, request.ID, models.RequestStatusApproved); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve request")
	}
	if penalised {
		if err := s.balances.AdjustCredit(ctx, tx, lesson.ParticipantID, -s.penalty.Credits); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to charge penalty")
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"previous_slot":   record.PreviousSlot,
		"new_slot":        candidate.SlotDescription(),
		"penalty_charged": penalised,
	})
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionRescheduleApprove,
		Resource:   "reschedule_request",
		ResourceID: &request.ID,
		NewValues:  payload,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit approval")
	}

	if penalised {
		s.metrics.RecordPenalty()
	}

	request.Status = models.RequestStatusApproved
	updated := *lesson
	updated.Date = req.Date
	updated.StartTime = req.Time
	updated.Zone = request.Zone
	updated.Status = models.LessonStatusUpcoming
	updated.AuditPreviousSlot = &record.PreviousSlot
	updated.AuditReason = &record.Reason
	updated.AuditPenaltyFlag = &record.PenaltyCharged
	updated.AuditActedAt = &actedAt

	s.logger.Info("reschedule approved",
		zap.String("request_id", request.ID),
		zap.String("lesson_id", lesson.ID),
		zap.Bool("penalty_charged", penalised))
	return &dto.RescheduleDecisionResponse{Request: *request, Lesson: &updated, PenaltyCharged: penalised}, nil
}

// Reject declines a pending request and returns the lesson to its upcoming
// state at the original slot. No penalty is ever charged on rejection.
func (s *RescheduleService) Reject(ctx context.Context, actorID, requestID string) (*dto.RescheduleDecisionResponse, error) {
	request, err := s.findPendingRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	lesson, err := s.findLesson(ctx, request.LessonID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.requests.UpdateStatus(ctx, tx, request.ID, models.RequestStatusRejected); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject request")
	}
	if err := s.lessons.UpdateStatus(ctx, tx, lesson.ID, models.LessonStatusUpcoming, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore lesson state")
	}
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionRescheduleReject,
		Resource:   "reschedule_request",
		ResourceID: &request.ID,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit rejection")
	}

	request.Status = models.RequestStatusRejected
	lesson.Status = models.LessonStatusUpcoming
	return &dto.RescheduleDecisionResponse{Request: *request, Lesson: lesson}, nil
}

// EditFollowing moves a series instance and everything after it to a new
// anchor slot. The touched instances are cancelled and a replacement series
// is generated under a fresh id through the original series end date.
// Explicit-date series have no cadence to regenerate and cannot be edited
// this way.
func (s *RescheduleService) EditFollowing(ctx context.Context, actorID, lessonID string, req dto.EditFollowingRequest) (*dto.EditFollowingResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid edit payload")
	}

	lesson, err := s.findLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusUpcoming {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot edit following from a lesson in state %s", lesson.Status))
	}
	if lesson.SeriesID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson is not part of a series")
	}
	if lesson.RecurrenceType != models.RecurrenceWeekly && lesson.RecurrenceType != models.RecurrenceSpecificDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot edit following for a %s series", lesson.RecurrenceType))
	}
	if lesson.SeriesEndDate == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "series has no end date to regenerate through")
	}

	rule := dto.RecurrenceRule{
		Type:          lesson.RecurrenceType,
		SeriesEndDate: *lesson.SeriesEndDate,
	}
	if lesson.RecurrenceType == models.RecurrenceSpecificDays {
		if err := json.Unmarshal(lesson.DaySet, &rule.DaySet); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode day set")
		}
	}
	dates, err := expandDates(req.NewDate, rule)
	if err != nil {
		return nil, err
	}

	template := dto.BookLessonRequest{
		ParticipantID:   lesson.ParticipantID,
		Date:            req.NewDate,
		StartTime:       req.NewTime,
		DurationMinutes: lesson.DurationMinutes,
		Zone:            lesson.Zone,
		MeetingLink:     lesson.MeetingLink,
	}
	newSeriesID := uuid.NewString()
	instances, err := buildSeriesInstances(newSeriesID, template, rule, dates)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cancelled, err := s.lessons.CancelSeriesFromDate(ctx, tx, *lesson.SeriesID, lesson.Date, models.LessonStatusCancelledByProvider, req.Reason)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel series tail")
	}
	if err := s.lessons.BulkCreateWithTx(ctx, tx, instances); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create replacement series")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"old_series_id": *lesson.SeriesID,
		"new_series_id": newSeriesID,
		"from_date":     lesson.Date,
		"cancelled":     cancelled,
		"created":       len(instances),
	})
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionSeriesSplit,
		Resource:   "series",
		ResourceID: lesson.SeriesID,
		NewValues:  payload,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit series edit")
	}

	s.logger.Info("series split",
		zap.String("old_series_id", *lesson.SeriesID),
		zap.String("new_series_id", newSeriesID),
		zap.Int64("cancelled", cancelled),
		zap.Int("created", len(instances)))
	return &dto.EditFollowingResponse{CancelledCount: int(cancelled), NewSeriesID: newSeriesID, Lessons: instances}, nil
}

// PendingForLesson returns the open reschedule request for a lesson, if any.
func (s *RescheduleService) PendingForLesson(ctx context.Context, lessonID string) (*models.RescheduleRequest, error) {
	if _, err := s.findLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	request, err := s.requests.FindPendingByLesson(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson has no pending reschedule request")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedule request")
	}
	return request, nil
}

func (s *RescheduleService) findLesson(ctx context.Context, id string) (*models.LessonInstance, error) {
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *RescheduleService) findPendingRequest(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reschedule request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedule request")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("request is already %s", request.Status))
	}
	return request, nil
}

func (s *RescheduleService) slotTaken(ctx context.Context, candidate models.LessonInstance) (bool, error) {
	from, err := timezone.AddDays(candidate.Date, -1)
	if err != nil {
		return false, err
	}
	to, err := timezone.AddDays(candidate.Date, 1)
	if err != nil {
		return false, err
	}
	bookings, err := s.lessons.ListActiveBetween(ctx, from, to)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	cand, err := lessonInterval(candidate)
	if err != nil {
		return false, err
	}
	for _, booking := range bookings {
		if booking.ID == candidate.ID {
			continue
		}
		if booking.Status.Cancelled() {
			continue
		}
		existing, err := lessonInterval(booking)
		if err != nil {
			return false, err
		}
		if cand.overlaps(existing) {
			return true, nil
		}
	}
	return false, nil
}
