package models

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// LessonStatus enumerates the lesson lifecycle states.
type LessonStatus string

const (
	LessonStatusUpcoming               LessonStatus = "UPCOMING"
	LessonStatusCompleted              LessonStatus = "COMPLETED"
	LessonStatusCancelledByParticipant LessonStatus = "CANCELLED_BY_PARTICIPANT"
	LessonStatusCancelledByProvider    LessonStatus = "CANCELLED_BY_PROVIDER"
	LessonStatusRescheduleRequested    LessonStatus = "RESCHEDULE_REQUESTED"
)

// Cancelled reports whether the status excludes the lesson from collision and
// slot-occupancy checks. Cancelled lessons are retained for history.
func (s LessonStatus) Cancelled() bool {
	return s == LessonStatusCancelledByParticipant || s == LessonStatusCancelledByProvider
}

// PaymentStatus tracks the lesson's settlement state.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// RecurrenceType enumerates how a lesson series was generated.
type RecurrenceType string

const (
	RecurrenceNone          RecurrenceType = "NONE"
	RecurrenceWeekly        RecurrenceType = "WEEKLY"
	RecurrenceSpecificDays  RecurrenceType = "SPECIFIC_DAYS"
	RecurrenceExplicitDates RecurrenceType = "EXPLICIT_DATES"
)

// LessonInstance is one concrete bookable lesson. Date and StartTime are
// wall-clock values in Zone; the absolute start instant is derived per read.
type LessonInstance struct {
	ID              string         `db:"id" json:"id"`
	ParticipantID   string         `db:"participant_id" json:"participant_id"`
	Date            string         `db:"lesson_date" json:"date"`
	StartTime       string         `db:"start_time" json:"start_time"`
	DurationMinutes int            `db:"duration_minutes" json:"duration_minutes"`
	Zone            string         `db:"zone" json:"zone"`
	Status          LessonStatus   `db:"status" json:"status"`
	PaymentStatus   PaymentStatus  `db:"payment_status" json:"payment_status"`
	RecurrenceType  RecurrenceType `db:"recurrence_type" json:"recurrence_type"`
	SeriesID        *string        `db:"series_id" json:"series_id,omitempty"`
	SeriesEndDate   *string        `db:"series_end_date" json:"series_end_date,omitempty"`
	DaySet          types.JSONText `db:"day_set" json:"day_set,omitempty"`
	IsMakeup        bool           `db:"is_makeup" json:"is_makeup"`
	MeetingLink     *string        `db:"meeting_link" json:"meeting_link,omitempty"`
	CancelReason    *string        `db:"cancel_reason" json:"cancel_reason,omitempty"`

	AuditPreviousSlot *string    `db:"audit_previous_slot" json:"-"`
	AuditReason       *string    `db:"audit_reason" json:"-"`
	AuditPenaltyFlag  *bool      `db:"audit_penalty_charged" json:"-"`
	AuditActedAt      *time.Time `db:"audit_acted_at" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SlotDescription renders the lesson's wall-clock slot for audit trails.
func (l LessonInstance) SlotDescription() string {
	return fmt.Sprintf("%s %s (%s)", l.Date, l.StartTime, l.Zone)
}

// AuditRecord returns the embedded audit record, or nil when none was written.
func (l LessonInstance) AuditRecord() *AuditRecord {
	if l.AuditActedAt == nil {
		return nil
	}
	record := &AuditRecord{ActedAt: *l.AuditActedAt}
	if l.AuditPreviousSlot != nil {
		record.PreviousSlot = *l.AuditPreviousSlot
	}
	if l.AuditReason != nil {
		record.Reason = *l.AuditReason
	}
	if l.AuditPenaltyFlag != nil {
		record.PenaltyCharged = *l.AuditPenaltyFlag
	}
	return record
}

// AuditRecord captures the prior slot and penalty outcome of a cancel or an
// approved reschedule. Append-only: a later action overwrites nothing, it adds
// a new audit log row and refreshes the embedded snapshot.
type AuditRecord struct {
	PreviousSlot   string    `json:"previous_slot"`
	Reason         string    `json:"reason"`
	PenaltyCharged bool      `json:"penalty_charged"`
	ActedAt        time.Time `json:"acted_at"`
}

// LessonFilter describes query params for listing lessons.
type LessonFilter struct {
	ParticipantID string
	Status        LessonStatus
	SeriesID      string
	DateFrom      string
	DateTo        string
	Page          int
	PageSize      int
}

// SlotConflict describes an existing lesson that collides with a candidate.
type SlotConflict struct {
	LessonID  string `json:"lesson_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Zone      string `json:"zone"`
}

// SlotConflictError is returned when series creation collides with existing
// bookings and force-create was not requested.
type SlotConflictError struct {
	Message   string         `json:"message"`
	Conflicts []SlotConflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
