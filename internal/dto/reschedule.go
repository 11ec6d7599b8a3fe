package dto

import "github.com/lessonloop/scheduling-api/internal/models"

// CreateRescheduleRequest opens a reschedule request for an upcoming lesson.
type CreateRescheduleRequest struct {
	LessonID      string                `json:"lesson_id" validate:"required"`
	ProposedSlots []models.ProposedSlot `json:"proposed_slots" validate:"required,min=1,dive"`
	Reason        string                `json:"reason" validate:"required"`
	Zone          string                `json:"zone" validate:"required"`
}

// ApproveRescheduleRequest picks one of the proposed slots.
type ApproveRescheduleRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,datetime=15:04"`
}

// RescheduleDecisionResponse reports the outcome of an approval or rejection.
type RescheduleDecisionResponse struct {
	Request        models.RescheduleRequest `json:"request"`
	Lesson         *models.LessonInstance   `json:"lesson,omitempty"`
	PenaltyCharged bool                     `json:"penalty_charged"`
}
