package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/models"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/export"
	"github.com/lessonloop/scheduling-api/pkg/timezone"
)

type lessonStore interface {
	List(ctx context.Context, filter models.LessonFilter) ([]models.LessonInstance, int, error)
	FindByID(ctx context.Context, id string) (*models.LessonInstance, error)
	Create(ctx context.Context, lesson *models.LessonInstance) error
	ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonStatus, cancelReason *string) error
	AttachAudit(ctx context.Context, exec sqlx.ExtContext, id string, record models.AuditRecord) error
}

type balanceStore interface {
	AdjustCredit(ctx context.Context, exec sqlx.ExtContext, participantID string, delta int) error
	GetCredits(ctx context.Context, participantID string) (int, error)
}

// PenaltyConfig controls the late-action credit penalty.
type PenaltyConfig struct {
	WindowHours float64
	Credits     int
}

// LessonService owns the lesson lifecycle: booking, cancellation, completion
// and exports. The clock is injectable so penalty boundaries are testable.
type LessonService struct {
	db        txBeginner
	lessons   lessonStore
	balances  balanceStore
	auditLogs auditWriter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	penalty   PenaltyConfig
	now       func() time.Time

	csvExporter *export.CSVExporter
	pdfExporter *export.PDFExporter
}

// NewLessonService wires lesson dependencies.
func NewLessonService(db txBeginner, lessons lessonStore, balances balanceStore, auditLogs auditWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, penalty PenaltyConfig) *LessonService {
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
	return &LessonService{
		db:          db,
		lessons:     lessons,
		balances:    balances,
		auditLogs:   auditLogs,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		penalty:     penalty,
		now:         time.Now,
		csvExporter: export.NewCSVExporter(),
		pdfExporter: export.NewPDFExporter(),
	}
}

// List returns lessons matching the query with pagination metadata.
func (s *LessonService) List(ctx context.Context, query dto.LessonListQuery) ([]models.LessonInstance, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson query")
	}
	filter := models.LessonFilter{
		ParticipantID: query.ParticipantID,
		Status:        models.LessonStatus(query.Status),
		SeriesID:      query.SeriesID,
		DateFrom:      query.DateFrom,
		DateTo:        query.DateTo,
		Page:          query.Page,
		PageSize:      query.PageSize,
	}
	lessons, total, err := s.lessons.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	return lessons, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get loads one lesson by id.
func (s *LessonService) Get(ctx context.Context, id string) (*models.LessonInstance, error) {
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

// Book creates a single lesson after a collision check against current
// bookings around the requested date.
func (s *LessonService) Book(ctx context.Context, actorID string, req dto.BookLessonRequest) (*models.LessonInstance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	lesson := &models.LessonInstance{
		ParticipantID:   req.ParticipantID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Zone:            req.Zone,
		MeetingLink:     req.MeetingLink,
	}

	taken, err := s.slotTaken(ctx, *lesson)
	if err != nil {
		return nil, err
	}
	if taken {
		s.metrics.RecordCollision()
		return nil, appErrors.Clone(appErrors.ErrSlotTaken, fmt.Sprintf("slot %s is already taken", lesson.SlotDescription()))
	}

	if err := s.lessons.Create(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to book lesson")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()
	payload, _ := json.Marshal(map[string]interface{}{"slot": lesson.SlotDescription()})
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionLessonBook,
		Resource:   "lesson",
		ResourceID: &lesson.ID,
		NewValues:  payload,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking audit")
	}

	s.logger.Info("lesson booked", zap.String("lesson_id", lesson.ID), zap.String("slot", lesson.SlotDescription()))
	return lesson, nil
}

// Cancel cancels an upcoming lesson. A participant cancelling inside the
// penalty window before the lesson start loses credits; provider cancellations
// and cancellations of already started lessons never charge.
func (s *LessonService) Cancel(ctx context.Context, actorID string, role models.UserRole, lessonID string, req dto.CancelLessonRequest) (*models.LessonInstance, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancel payload")
	}

	lesson, err := s.Get(ctx, lessonID)
	if err != nil {
		return nil, false, err
	}
	if lesson.Status.Cancelled() || lesson.Status == models.LessonStatusCompleted {
		return nil, false, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("lesson is already %s", lesson.Status))
	}

	status := models.LessonStatusCancelledByProvider
	if role == models.RoleParticipant {
		status = models.LessonStatusCancelledByParticipant
	}

	penalised := false
	if role == models.RoleParticipant {
		penalised, err = withinPenaltyWindow(*lesson, s.now().UTC(), s.penalty.WindowHours)
		if err != nil {
			return nil, false, err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	reason := req.Reason
	if err := s.lessons.UpdateStatus(ctx, tx, lesson.ID, status, &reason); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel lesson")
	}

	actedAt := s.now().UTC()
	record := models.AuditRecord{
		PreviousSlot:   lesson.SlotDescription(),
		Reason:         reason,
		PenaltyCharged: penalised,
		ActedAt:        actedAt,
	}
	if err := s.lessons.AttachAudit(ctx, tx, lesson.ID, record); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit snapshot")
	}

	if penalised {
		if err := s.balances.AdjustCredit(ctx, tx, lesson.ParticipantID, -s.penalty.Credits); err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to charge penalty")
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"previous_slot":   record.PreviousSlot,
		"reason":          record.Reason,
		"penalty_charged": record.PenaltyCharged,
	})
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionLessonCancel,
		Resource:   "lesson",
		ResourceID: &lesson.ID,
		NewValues:  payload,
	}); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit cancellation")
	}

	if penalised {
		s.metrics.RecordPenalty()
	}

	lesson.Status = status
	lesson.CancelReason = &reason
	lesson.AuditPreviousSlot = &record.PreviousSlot
	lesson.AuditReason = &record.Reason
	lesson.AuditPenaltyFlag = &record.PenaltyCharged
	lesson.AuditActedAt = &actedAt

	s.logger.Info("lesson cancelled",
		zap.String("lesson_id", lesson.ID),
		zap.String("status", string(status)),
		zap.Bool("penalty_charged", penalised))
	return lesson, penalised, nil
}

// Complete marks an upcoming lesson as held.
func (s *LessonService) Complete(ctx context.Context, actorID, lessonID string) (*models.LessonInstance, error) {
	lesson, err := s.Get(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.Status != models.LessonStatusUpcoming && lesson.Status != models.LessonStatusRescheduleRequested {
		return nil, appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot complete a lesson in state %s", lesson.Status))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.lessons.UpdateStatus(ctx, tx, lesson.ID, models.LessonStatusCompleted, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete lesson")
	}
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionLessonComplete,
		Resource:   "lesson",
		ResourceID: &lesson.ID,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit completion")
	}

	lesson.Status = models.LessonStatusCompleted
	return lesson, nil
}

// CreditBalance returns the participant's current credit balance. Unknown
// participants report a zero balance.
func (s *LessonService) CreditBalance(ctx context.Context, participantID string) (int, error) {
	if participantID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "participant id is required")
	}
	credits, err := s.balances.GetCredits(ctx, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit balance")
	}
	return credits, nil
}

// ExportTimetable renders the filtered lesson list as CSV or PDF bytes. The
// full result set is paged through so large timetables export completely.
func (s *LessonService) ExportTimetable(ctx context.Context, query dto.LessonListQuery, format string) ([]byte, string, error) {
	query.PageSize = 100
	var lessons []models.LessonInstance
	for page := 1; ; page++ {
		query.Page = page
		batch, pagination, err := s.List(ctx, query)
		if err != nil {
			return nil, "", err
		}
		lessons = append(lessons, batch...)
		if len(batch) == 0 || pagination == nil || page >= pagination.TotalPages {
			break
		}
	}

	data := export.Dataset{
		Headers: []string{"Date", "Start", "Duration", "Zone", "Participant", "Status", "Series"},
	}
	for _, lesson := range lessons {
		series := ""
		if lesson.SeriesID != nil {
			series = *lesson.SeriesID
		}
		data.Rows = append(data.Rows, map[string]string{
			"Date":        lesson.Date,
			"Start":       lesson.StartTime,
			"Duration":    strconv.Itoa(lesson.DurationMinutes) + "m",
			"Zone":        lesson.Zone,
			"Participant": lesson.ParticipantID,
			"Status":      string(lesson.Status),
			"Series":      series,
		})
	}

	switch format {
	case "csv", "":
		payload, err := s.csvExporter.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	case "pdf":
		payload, err := s.pdfExporter.Render(data, "Lesson Timetable")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

// withinPenaltyWindow reports whether an action taken at actedAt falls inside
// the penalty window before the lesson start. Exactly at the window boundary
// is not late, and actions after the start never charge.
func withinPenaltyWindow(lesson models.LessonInstance, actedAt time.Time, windowHours float64) (bool, error) {
	start, err := timezone.ToInstant(lesson.Date, lesson.StartTime, lesson.Zone)
	if err != nil {
		return false, err
	}
	hoursUntil := start.Sub(actedAt).Hours()
	return hoursUntil >= 0 && hoursUntil < windowHours, nil
}

func (s *LessonService) slotTaken(ctx context.Context, candidate models.LessonInstance) (bool, error) {
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
