package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/models"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
)

type seriesLessonStoreStub struct {
	lessons   map[string]*models.LessonInstance
	active    []models.LessonInstance
	statuses  map[string]models.LessonStatus
	slots     map[string][3]string
	audits    map[string]models.AuditRecord
	cancelled int64
	created   []models.LessonInstance

	cancelledSeries string
	cancelledFrom   string
}

func newSeriesLessonStoreStub(lessons ...*models.LessonInstance) *seriesLessonStoreStub {
	stub := &seriesLessonStoreStub{
		lessons:  map[string]*models.LessonInstance{},
		statuses: map[string]models.LessonStatus{},
		slots:    map[string][3]string{},
		audits:   map[string]models.AuditRecord{},
	}
	for _, lesson := range lessons {
		stub.lessons[lesson.ID] = lesson
	}
	return stub
}

func (s *seriesLessonStoreStub) FindByID(ctx context.Context, id string) (*models.LessonInstance, error) {
	lesson, ok := s.lessons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *lesson
	return &cp, nil
}

func (s *seriesLessonStoreStub) ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error) {
	return s.active, nil
}

func (s *seriesLessonStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonStatus, cancelReason *string) error {
	s.statuses[id] = status
	return nil
}

func (s *seriesLessonStoreStub) UpdateSlot(ctx context.Context, exec sqlx.ExtContext, id, date, startTime, zone string) error {
	s.slots[id] = [3]string{date, startTime, zone}
	return nil
}

func (s *seriesLessonStoreStub) AttachAudit(ctx context.Context, exec sqlx.ExtContext, id string, record models.AuditRecord) error {
	s.audits[id] = record
	return nil
}

func (s *seriesLessonStoreStub) CancelSeriesFromDate(ctx context.Context, exec sqlx.ExtContext, seriesID, fromDate string, status models.LessonStatus, reason string) (int64, error) {
	s.cancelledSeries = seriesID
	s.cancelledFrom = fromDate
	return s.cancelled, nil
}

func (s *seriesLessonStoreStub) BulkCreateWithTx(ctx context.Context, exec sqlx.ExtContext, lessons []models.LessonInstance) error {
	s.created = append(s.created, lessons...)
	return nil
}

type requestStoreStub struct {
	requests map[string]*models.RescheduleRequest
	pending  map[string]*models.RescheduleRequest
	statuses map[string]models.RequestStatus
}

func newRequestStoreStub(requests ...*models.RescheduleRequest) *requestStoreStub {
	stub := &requestStoreStub{
		requests: map[string]*models.RescheduleRequest{},
		pending:  map[string]*models.RescheduleRequest{},
		statuses: map[string]models.RequestStatus{},
	}
	for _, request := range requests {
		stub.requests[request.ID] = request
		if request.Status == models.RequestStatusPending {
			stub.pending[request.LessonID] = request
		}
	}
	return stub
}

func (s *requestStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, request *models.RescheduleRequest) error {
	if request.ID == "" {
		request.ID = "request-" + request.LessonID
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	s.requests[request.ID] = request
	s.pending[request.LessonID] = request
	return nil
}

func (s *requestStoreStub) FindByID(ctx context.Context, id string) (*models.RescheduleRequest, error) {
	request, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *request
	return &cp, nil
}

func (s *requestStoreStub) FindPendingByLesson(ctx context.Context, lessonID string) (*models.RescheduleRequest, error) {
	request, ok := s.pending[lessonID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *request
	return &cp, nil
}

func (s *requestStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.RequestStatus) error {
	s.statuses[id] = status
	if request, ok := s.requests[id]; ok {
		request.Status = status
		if status != models.RequestStatusPending {
			delete(s.pending, request.LessonID)
		}
	}
	return nil
}

func newRescheduleService(t *testing.T, lessons *seriesLessonStoreStub, requests *requestStoreStub, balances *balanceStoreStub, now time.Time) (*RescheduleService, *auditWriterStub) {
	t.Helper()
	db, mock := newTxDB(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 4; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	audits := &auditWriterStub{}
	svc := NewRescheduleService(db, lessons, requests, balances, audits, nil, nil, zap.NewNop(), PenaltyConfig{WindowHours: 4, Credits: 1})
	svc.now = func() time.Time { return now }
	return svc, audits
}

func pendingRequest(lessonID string, createdAt time.Time, slots ...models.ProposedSlot) *models.RescheduleRequest {
	raw, _ := json.Marshal(slots)
	return &models.RescheduleRequest{
		ID:            "request-1",
		LessonID:      lessonID,
		ProposedSlots: raw,
		Reason:        "clash",
		Status:        models.RequestStatusPending,
		Zone:          "UTC",
		RequestedBy:   "participant-1",
		CreatedAt:     createdAt,
	}
}

func TestRescheduleRequestParksLesson(t *testing.T) {
	lessons := newSeriesLessonStoreStub(upcomingLesson())
	requests := newRequestStoreStub()
	svc, audits := newRescheduleService(t, lessons, requests, &balanceStoreStub{}, time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC))

	request, err := svc.Request(context.Background(), "participant-1", dto.CreateRescheduleRequest{
		LessonID:      "lesson-1",
		ProposedSlots: []models.ProposedSlot{{Date: "2026-01-11", Time: "09:00"}},
		Reason:        "clash",
		Zone:          "UTC",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Equal(t, models.LessonStatusRescheduleRequested, lessons.statuses["lesson-1"])
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionRescheduleRequest, audits.logs[0].Action)
}

func TestRescheduleRequestBlockedWhenPending(t *testing.T) {
	lessons := newSeriesLessonStoreStub(upcomingLesson())
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Now().UTC(), models.ProposedSlot{Date: "2026-01-11", Time: "09:00"}))
	svc, _ := newRescheduleService(t, lessons, requests, &balanceStoreStub{}, time.Now().UTC())

	_, err := svc.Request(context.Background(), "participant-1", dto.CreateRescheduleRequest{
		LessonID:      "lesson-1",
		ProposedSlots: []models.ProposedSlot{{Date: "2026-01-12", Time: "09:00"}},
		Reason:        "again",
		Zone:          "UTC",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
}

func TestApproveTimelyRequestNoPenalty(t *testing.T) {
	lesson := upcomingLesson()
	lesson.Status = models.LessonStatusRescheduleRequested
	lessons := newSeriesLessonStoreStub(lesson)
	// Submitted six hours before the start; approval happens one hour before.
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC), models.ProposedSlot{Date: "2026-01-11", Time: "09:00"}))
	balances := &balanceStoreStub{}
	svc, _ := newRescheduleService(t, lessons, requests, balances, time.Date(2026, 1, 10, 11, 0, 0, 0, time.UTC))

	decision, err := svc.Approve(context.Background(), "provider-1", "request-1", dto.ApproveRescheduleRequest{Date: "2026-01-11", Time: "09:00"})
	require.NoError(t, err)
	assert.False(t, decision.PenaltyCharged)
	assert.Empty(t, balances.adjustments)
	assert.Equal(t, models.RequestStatusApproved, requests.statuses["request-1"])
	assert.Equal(t, [3]string{"2026-01-11", "09:00", "UTC"}, lessons.slots["lesson-1"])
	assert.Equal(t, models.LessonStatusUpcoming, lessons.statuses["lesson-1"])
	assert.Equal(t, "2026-01-10 12:00 (UTC)", lessons.audits["lesson-1"].PreviousSlot)
}

func TestApproveLateRequestCharges(t *testing.T) {
	lesson := upcomingLesson()
	lesson.Status = models.LessonStatusRescheduleRequested
	lessons := newSeriesLessonStoreStub(lesson)
	// Submitted two hours before the original start.
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC), models.ProposedSlot{Date: "2026-01-12", Time: "15:00"}))
	balances := &balanceStoreStub{}
	svc, _ := newRescheduleService(t, lessons, requests, balances, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC))

	decision, err := svc.Approve(context.Background(), "provider-1", "request-1", dto.ApproveRescheduleRequest{Date: "2026-01-12", Time: "15:00"})
	require.NoError(t, err)
	assert.True(t, decision.PenaltyCharged)
	assert.Equal(t, -1, balances.adjustments["participant-1"])
	assert.True(t, lessons.audits["lesson-1"].PenaltyCharged)
}

func TestApproveRejectsUnproposedSlot(t *testing.T) {
	lessons := newSeriesLessonStoreStub(upcomingLesson())
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Now().UTC(), models.ProposedSlot{Date: "2026-01-11", Time: "09:00"}))
	svc, _ := newRescheduleService(t, lessons, requests, &balanceStoreStub{}, time.Now().UTC())

	_, err := svc.Approve(context.Background(), "provider-1", "request-1", dto.ApproveRescheduleRequest{Date: "2026-01-11", Time: "10:00"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, lessons.slots)
}

func TestApproveRejectsTakenSlot(t *testing.T) {
	lessons := newSeriesLessonStoreStub(upcomingLesson())
	lessons.active = []models.LessonInstance{
		{ID: "busy", Date: "2026-01-11", StartTime: "09:30", DurationMinutes: 60, Zone: "UTC", Status: models.LessonStatusUpcoming},
	}
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Now().UTC(), models.ProposedSlot{Date: "2026-01-11", Time: "09:00"}))
	svc, _ := newRescheduleService(t, lessons, requests, &balanceStoreStub{}, time.Now().UTC())

	_, err := svc.Approve(context.Background(), "provider-1", "request-1", dto.ApproveRescheduleRequest{Date: "2026-01-11", Time: "09:00"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotTaken.Code, appErrors.FromError(err).Code)
}

func TestRejectRestoresLesson(t *testing.T) {
	lesson := upcomingLesson()
	lesson.Status = models.LessonStatusRescheduleRequested
	lessons := newSeriesLessonStoreStub(lesson)
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Now().UTC(), models.ProposedSlot{Date: "2026-01-11", Time: "09:00"}))
	svc, audits := newRescheduleService(t, lessons, requests, &balanceStoreStub{}, time.Now().UTC())

	decision, err := svc.Reject(context.Background(), "provider-1", "request-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, decision.Request.Status)
	assert.Equal(t, models.LessonStatusUpcoming, lessons.statuses["lesson-1"])
	assert.Empty(t, lessons.slots, "rejection keeps the original slot")
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionRescheduleReject, audits.logs[0].Action)

	_, err = svc.Reject(context.Background(), "provider-1", "request-1")
	require.Error(t, err, "a decided request cannot be rejected twice")
}

func TestPendingForLesson(t *testing.T) {
	lessons := newSeriesLessonStoreStub(upcomingLesson())
	requests := newRequestStoreStub(pendingRequest("lesson-1", time.Now().UTC(), models.ProposedSlot{Date: "2026-01-11", Time: "09:00"}))
	svc, _ := newRescheduleService(t, lessons, requests, &balanceStoreStub{}, time.Now().UTC())

	request, err := svc.PendingForLesson(context.Background(), "lesson-1")
	require.NoError(t, err)
	assert.Equal(t, "request-1", request.ID)

	_, err = svc.PendingForLesson(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEditFollowingSplitsWeeklySeries(t *testing.T) {
	seriesID := "series-1"
	endDate := "2026-02-02"
	// Third instance of a five-lesson Monday series.
	lesson := &models.LessonInstance{
		ID:              "lesson-3",
		ParticipantID:   "participant-1",
		Date:            "2026-01-19",
		StartTime:       "12:00",
		DurationMinutes: 60,
		Zone:            "UTC",
		Status:          models.LessonStatusUpcoming,
		RecurrenceType:  models.RecurrenceWeekly,
		SeriesID:        &seriesID,
		SeriesEndDate:   &endDate,
	}
	lessons := newSeriesLessonStoreStub(lesson)
	lessons.cancelled = 3
	svc, audits := newRescheduleService(t, lessons, newRequestStoreStub(), &balanceStoreStub{}, time.Now().UTC())

	resp, err := svc.EditFollowing(context.Background(), "provider-1", "lesson-3", dto.EditFollowingRequest{
		NewDate: "2026-01-20",
		NewTime: "09:00",
		Reason:  "new work schedule",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.CancelledCount)
	assert.Equal(t, seriesID, lessons.cancelledSeries)
	assert.Equal(t, "2026-01-19", lessons.cancelledFrom)
	assert.NotEqual(t, seriesID, resp.NewSeriesID)

	// Tuesdays through the original end date: Jan 20 and Jan 27.
	require.Len(t, resp.Lessons, 2)
	assert.Equal(t, "2026-01-20", resp.Lessons[0].Date)
	assert.Equal(t, "2026-01-27", resp.Lessons[1].Date)
	for _, instance := range resp.Lessons {
		assert.Equal(t, "09:00", instance.StartTime)
		assert.Equal(t, resp.NewSeriesID, *instance.SeriesID)
		assert.Equal(t, endDate, *instance.SeriesEndDate)
	}
	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionSeriesSplit, audits.logs[0].Action)
}

func TestEditFollowingRejectsNonSeriesLesson(t *testing.T) {
	lessons := newSeriesLessonStoreStub(upcomingLesson())
	svc, _ := newRescheduleService(t, lessons, newRequestStoreStub(), &balanceStoreStub{}, time.Now().UTC())

	_, err := svc.EditFollowing(context.Background(), "provider-1", "lesson-1", dto.EditFollowingRequest{
		NewDate: "2026-01-20",
		NewTime: "09:00",
		Reason:  "move",
	})
	require.Error(t, err)
}

func TestEditFollowingRejectsCancelledAnchor(t *testing.T) {
	seriesID := "series-1"
	endDate := "2026-02-02"
	lesson := upcomingLesson()
	lesson.Status = models.LessonStatusCancelledByParticipant
	lesson.RecurrenceType = models.RecurrenceWeekly
	lesson.SeriesID = &seriesID
	lesson.SeriesEndDate = &endDate
	lessons := newSeriesLessonStoreStub(lesson)
	svc, _ := newRescheduleService(t, lessons, newRequestStoreStub(), &balanceStoreStub{}, time.Now().UTC())

	_, err := svc.EditFollowing(context.Background(), "provider-1", "lesson-1", dto.EditFollowingRequest{
		NewDate: "2026-01-20",
		NewTime: "09:00",
		Reason:  "move",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, lessons.cancelledSeries, "no series tail may be cancelled")
	assert.Empty(t, lessons.created, "no replacement series may be created")
}

func TestEditFollowingRejectsExplicitDatesSeries(t *testing.T) {
	seriesID := "series-makeup"
	endDate := "2026-02-02"
	lesson := upcomingLesson()
	lesson.RecurrenceType = models.RecurrenceExplicitDates
	lesson.SeriesID = &seriesID
	lesson.SeriesEndDate = &endDate
	lessons := newSeriesLessonStoreStub(lesson)
	svc, _ := newRescheduleService(t, lessons, newRequestStoreStub(), &balanceStoreStub{}, time.Now().UTC())

	_, err := svc.EditFollowing(context.Background(), "provider-1", "lesson-1", dto.EditFollowingRequest{
		NewDate: "2026-01-20",
		NewTime: "09:00",
		Reason:  "move",
	})
	require.Error(t, err)
}
