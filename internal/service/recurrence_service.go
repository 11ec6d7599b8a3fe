package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/models"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/timezone"
)

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type seriesStore interface {
	BulkCreateWithTx(ctx context.Context, exec sqlx.ExtContext, lessons []models.LessonInstance) error
	ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error
}

// RecurrenceService expands lesson templates into series of concrete
// instances and persists them atomically.
type RecurrenceService struct {
	db        txBeginner
	lessons   seriesStore
	auditLogs auditWriter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRecurrenceService wires recurrence dependencies.
func NewRecurrenceService(db txBeginner, lessons seriesStore, auditLogs auditWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RecurrenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecurrenceService{db: db, lessons: lessons, auditLogs: auditLogs, metrics: metrics, validator: validate, logger: logger}
}

// Expand materialises the instances a template and rule describe, without
// persisting anything. A fresh series id is minted per expansion.
func (s *RecurrenceService) Expand(template dto.BookLessonRequest, rule dto.RecurrenceRule) (string, []models.LessonInstance, error) {
	dates, err := expandDates(template.Date, rule)
	if err != nil {
		return "", nil, err
	}
	seriesID := uuid.NewString()
	instances, err := buildSeriesInstances(seriesID, template, rule, dates)
	if err != nil {
		return "", nil, err
	}
	return seriesID, instances, nil
}

// CreateSeries expands and persists a lesson series. Unless Force is set,
// collisions with existing bookings abort the creation and the full conflict
// list is surfaced to the caller.
func (s *RecurrenceService) CreateSeries(ctx context.Context, actorID string, req dto.CreateSeriesRequest) (*dto.CreateSeriesResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid series payload")
	}

	seriesID, instances, err := s.Expand(req.Template, req.Rule)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recurrence rule yields no lesson instances")
	}

	if !req.Force {
		conflicts, err := s.findConflicts(ctx, instances)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			s.metrics.RecordCollision()
			conflictErr := &models.SlotConflictError{
				Message:   fmt.Sprintf("%d of %d requested slots are already taken", len(conflicts), len(instances)),
				Conflicts: conflicts,
			}
			return nil, appErrors.Wrap(conflictErr, appErrors.ErrSlotTaken.Code, appErrors.ErrSlotTaken.Status, conflictErr.Message)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.lessons.BulkCreateWithTx(ctx, tx, instances); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist series")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"series_id": seriesID,
		"type":      req.Rule.Type,
		"count":     len(instances),
	})
	if err := s.auditLogs.CreateAuditLog(ctx, tx, &models.AuditLog{
		ActorID:    &actorID,
		Action:     models.AuditActionSeriesCreate,
		Resource:   "series",
		ResourceID: &seriesID,
		NewValues:  payload,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit series")
	}

	s.logger.Info("series created",
		zap.String("series_id", seriesID),
		zap.String("type", string(req.Rule.Type)),
		zap.Int("instances", len(instances)))

	return &dto.CreateSeriesResponse{SeriesID: seriesID, Lessons: instances}, nil
}

func (s *RecurrenceService) findConflicts(ctx context.Context, instances []models.LessonInstance) ([]models.SlotConflict, error) {
	from, err := timezone.AddDays(instances[0].Date, -1)
	if err != nil {
		return nil, err
	}
	to, err := timezone.AddDays(instances[len(instances)-1].Date, 1)
	if err != nil {
		return nil, err
	}
	bookings, err := s.lessons.ListActiveBetween(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	var conflicts []models.SlotConflict
	for _, instance := range instances {
		candidate, err := lessonInterval(instance)
		if err != nil {
			return nil, err
		}
		for _, booking := range bookings {
			if booking.Status.Cancelled() {
				continue
			}
			existing, err := lessonInterval(booking)
			if err != nil {
				return nil, err
			}
			if candidate.overlaps(existing) {
				conflicts = append(conflicts, models.SlotConflict{
					LessonID:  booking.ID,
					Date:      instance.Date,
					StartTime: instance.StartTime,
					Zone:      instance.Zone,
				})
				break
			}
		}
	}
	return conflicts, nil
}

// expandDates resolves a recurrence rule to an ordered list of calendar
// dates, the anchor date included. All arithmetic is absolute-date based, so
// a series that crosses a seasonal offset change keeps its wall-clock time.
func expandDates(anchor string, rule dto.RecurrenceRule) ([]string, error) {
	switch rule.Type {
	case models.RecurrenceWeekly:
		return expandWeekly(anchor, rule.SeriesEndDate)
	case models.RecurrenceSpecificDays:
		return expandSpecificDays(anchor, rule.SeriesEndDate, rule.DaySet)
	case models.RecurrenceExplicitDates:
		return expandExplicit(rule.ExplicitDates)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported recurrence type %q", rule.Type))
	}
}

func expandWeekly(anchor, endDate string) ([]string, error) {
	if endDate == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "weekly recurrence requires a series end date")
	}
	days, err := timezone.DaysBetween(anchor, endDate)
	if err != nil {
		return nil, err
	}
	// An end date before the anchor still yields the anchor itself.
	if days < 0 {
		return []string{anchor}, nil
	}
	count := days/7 + 1
	dates := make([]string, 0, count)
	for i := 0; i < count; i++ {
		date, err := timezone.AddDays(anchor, i*7)
		if err != nil {
			return nil, err
		}
		dates = append(dates, date)
	}
	return dates, nil
}

func expandSpecificDays(anchor, endDate string, daySet []int) ([]string, error) {
	if endDate == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "specific-days recurrence requires a series end date")
	}
	if len(daySet) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "specific-days recurrence requires a day set")
	}
	wanted := make(map[int]struct{}, len(daySet))
	for _, day := range daySet {
		wanted[day] = struct{}{}
	}

	days, err := timezone.DaysBetween(anchor, endDate)
	if err != nil {
		return nil, err
	}
	if days < 0 {
		days = 0
	}
	var dates []string
	for i := 0; i <= days; i++ {
		date, err := timezone.AddDays(anchor, i)
		if err != nil {
			return nil, err
		}
		weekday, err := timezone.Weekday(date)
		if err != nil {
			return nil, err
		}
		if _, ok := wanted[int(weekday)]; ok {
			dates = append(dates, date)
		}
	}
	return dates, nil
}

func expandExplicit(explicit []string) ([]string, error) {
	if len(explicit) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "explicit-dates recurrence requires at least one date")
	}
	seen := make(map[string]struct{}, len(explicit))
	dates := make([]string, 0, len(explicit))
	for _, date := range explicit {
		if _, err := timezone.Weekday(date); err != nil {
			return nil, err
		}
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

func buildSeriesInstances(seriesID string, template dto.BookLessonRequest, rule dto.RecurrenceRule, dates []string) ([]models.LessonInstance, error) {
	var daySet types.JSONText
	if len(rule.DaySet) > 0 {
		raw, err := json.Marshal(rule.DaySet)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode day set")
		}
		daySet = types.JSONText(raw)
	}

	var endDate *string
	if rule.SeriesEndDate != "" {
		end := rule.SeriesEndDate
		endDate = &end
	}

	instances := make([]models.LessonInstance, 0, len(dates))
	for _, date := range dates {
		instances = append(instances, models.LessonInstance{
			ParticipantID:   template.ParticipantID,
			Date:            date,
			StartTime:       template.StartTime,
			DurationMinutes: template.DurationMinutes,
			Zone:            template.Zone,
			Status:          models.LessonStatusUpcoming,
			RecurrenceType:  rule.Type,
			SeriesID:        &seriesID,
			SeriesEndDate:   endDate,
			DaySet:          daySet,
			IsMakeup:        rule.Type == models.RecurrenceExplicitDates,
			MeetingLink:     template.MeetingLink,
		})
	}
	return instances, nil
}
