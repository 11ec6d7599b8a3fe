package dto

import "github.com/lessonloop/scheduling-api/internal/models"

// BookLessonRequest creates a single lesson at a chosen slot.
type BookLessonRequest struct {
	ParticipantID   string  `json:"participant_id" validate:"required"`
	Date            string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string  `json:"start_time" validate:"required,datetime=15:04"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,min=15,max=480"`
	Zone            string  `json:"zone" validate:"required"`
	MeetingLink     *string `json:"meeting_link,omitempty"`
}

// RecurrenceRule parameterises series expansion from a lesson template.
type RecurrenceRule struct {
	Type          models.RecurrenceType `json:"type" validate:"required,oneof=WEEKLY SPECIFIC_DAYS EXPLICIT_DATES"`
	SeriesEndDate string                `json:"series_end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DaySet        []int                 `json:"day_set,omitempty" validate:"dive,min=0,max=6"`
	ExplicitDates []string              `json:"explicit_dates,omitempty" validate:"dive,datetime=2006-01-02"`
}

// CreateSeriesRequest expands a template into a series and persists it.
// Force proceeds despite collisions; otherwise the conflict list is returned.
type CreateSeriesRequest struct {
	Template BookLessonRequest `json:"template" validate:"required"`
	Rule     RecurrenceRule    `json:"rule" validate:"required"`
	Force    bool              `json:"force"`
}

// CreateSeriesResponse reports the created series.
type CreateSeriesResponse struct {
	SeriesID string                  `json:"series_id"`
	Lessons  []models.LessonInstance `json:"lessons"`
}

// CancelLessonRequest cancels a single upcoming lesson.
type CancelLessonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CancelLessonResponse reports whether the late-action penalty applied.
type CancelLessonResponse struct {
	PenaltyCharged bool `json:"penalty_charged"`
}

// EditFollowingRequest moves this and all following series instances to a new
// anchor slot. The regenerated series runs through the original end date.
type EditFollowingRequest struct {
	NewDate string `json:"new_date" validate:"required,datetime=2006-01-02"`
	NewTime string `json:"new_time" validate:"required,datetime=15:04"`
	Reason  string `json:"reason" validate:"required"`
}

// EditFollowingResponse reports the replacement series.
type EditFollowingResponse struct {
	CancelledCount int                     `json:"cancelled_count"`
	NewSeriesID    string                  `json:"new_series_id,omitempty"`
	Lessons        []models.LessonInstance `json:"lessons"`
}

// LessonListQuery filters the lesson listing.
type LessonListQuery struct {
	ParticipantID string `form:"participantId"`
	Status        string `form:"status"`
	SeriesID      string `form:"seriesId"`
	DateFrom      string `form:"from" validate:"omitempty,datetime=2006-01-02"`
	DateTo        string `form:"to" validate:"omitempty,datetime=2006-01-02"`
	Page          int    `form:"page"`
	PageSize      int    `form:"limit"`
}
