package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLessonBook        = "LESSON_BOOK"
	AuditActionLessonCancel      = "LESSON_CANCEL"
	AuditActionLessonComplete    = "LESSON_COMPLETE"
	AuditActionSeriesCreate      = "SERIES_CREATE"
	AuditActionSeriesSplit       = "SERIES_SPLIT"
	AuditActionRescheduleRequest = "RESCHEDULE_REQUEST"
	AuditActionRescheduleApprove = "RESCHEDULE_APPROVE"
	AuditActionRescheduleReject  = "RESCHEDULE_REJECT"
	AuditActionProfileUpdate     = "PROFILE_UPDATE"
)

// AuditLog represents an append-only audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
