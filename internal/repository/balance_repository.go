package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// BalanceRepository adjusts participant lesson-credit balances.
type BalanceRepository struct {
	db *sqlx.DB
}

// NewBalanceRepository creates a new balance repository.
func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// AdjustCredit shifts a participant's credit balance by delta, creating the
// balance row on first use. The balance may go negative; reconciliation is a
// billing concern, not a scheduling one.
func (r *BalanceRepository) AdjustCredit(ctx context.Context, exec sqlx.ExtContext, participantID string, delta int) error {
	query := `INSERT INTO participant_balances (participant_id, credits, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_id) DO UPDATE
		SET credits = participant_balances.credits + EXCLUDED.credits, updated_at = EXCLUDED.updated_at`
	if _, err := exec.ExecContext(ctx, query, participantID, delta, time.Now().UTC()); err != nil {
		return fmt.Errorf("adjust credit: %w", err)
	}
	return nil
}

// GetCredits returns the participant's current credit balance.
func (r *BalanceRepository) GetCredits(ctx context.Context, participantID string) (int, error) {
	var credits int
	if err := r.db.GetContext(ctx, &credits, `SELECT credits FROM participant_balances WHERE participant_id = $1`, participantID); err != nil {
		return 0, err
	}
	return credits, nil
}
