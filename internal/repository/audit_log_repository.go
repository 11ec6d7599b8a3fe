package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/scheduling-api/internal/models"
)

// AuditLogRepository appends audit trail records.
type AuditLogRepository struct {
	db *sqlx.DB
}

// NewAuditLogRepository creates a new audit log repository.
func NewAuditLogRepository(db *sqlx.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// CreateAuditLog appends one audit record. Rows are never updated or deleted.
func (r *AuditLogRepository) CreateAuditLog(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, actor_id, action, resource, resource_id, old_values, new_values, created_at) VALUES (:id, :actor_id, :action, :resource, :resource_id, :old_values, :new_values, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
