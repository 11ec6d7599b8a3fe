package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RequestStatus enumerates reschedule request states.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// ProposedSlot is a candidate replacement slot offered by the participant.
type ProposedSlot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// RescheduleRequest tracks a participant's request to move an upcoming lesson.
// ProposedSlots is a JSON array of ProposedSlot in the request's zone.
type RescheduleRequest struct {
	ID            string         `db:"id" json:"id"`
	LessonID      string         `db:"lesson_id" json:"lesson_id"`
	ProposedSlots types.JSONText `db:"proposed_slots" json:"proposed_slots"`
	Reason        string         `db:"reason" json:"reason"`
	Status        RequestStatus  `db:"status" json:"status"`
	Zone          string         `db:"zone" json:"zone"`
	RequestedBy   string         `db:"requested_by" json:"requested_by"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}
