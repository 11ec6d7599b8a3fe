package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/scheduling-api/internal/models"
)

// ProfileRepository persists the provider's availability profile: home zone,
// recurring weekly windows and dated blackout exceptions.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile assembles the full availability profile for a provider.
func (r *ProfileRepository) GetProfile(ctx context.Context, providerID string) (*models.AvailabilityProfile, error) {
	var zone string
	if err := r.db.GetContext(ctx, &zone, `SELECT zone FROM provider_profiles WHERE provider_id = $1`, providerID); err != nil {
		return nil, err
	}

	var windows []models.TimeWindow
	if err := r.db.SelectContext(ctx, &windows, `SELECT id, day_of_week, start_time, end_time, active, created_at, updated_at FROM availability_windows WHERE provider_id = $1 ORDER BY day_of_week ASC, start_time ASC`, providerID); err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}

	var blackouts []models.BlackoutException
	if err := r.db.SelectContext(ctx, &blackouts, `SELECT id, blackout_date, start_time, end_time, notes, created_at FROM blackout_exceptions WHERE provider_id = $1 ORDER BY blackout_date ASC, start_time ASC`, providerID); err != nil {
		return nil, fmt.Errorf("list blackout exceptions: %w", err)
	}

	return &models.AvailabilityProfile{
		ProviderID: providerID,
		Zone:       zone,
		Windows:    windows,
		Blackouts:  blackouts,
	}, nil
}

// ReplaceWindows swaps the provider's zone and weekly windows atomically.
func (r *ProfileRepository) ReplaceWindows(ctx context.Context, providerID, zone string, windows []models.TimeWindow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace windows: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `INSERT INTO provider_profiles (provider_id, zone, updated_at) VALUES ($1, $2, $3) ON CONFLICT (provider_id) DO UPDATE SET zone = $2, updated_at = $3`, providerID, zone, now); err != nil {
		err = fmt.Errorf("upsert provider zone: %w", err)
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM availability_windows WHERE provider_id = $1`, providerID); err != nil {
		err = fmt.Errorf("clear availability windows: %w", err)
		return err
	}
	for i := range windows {
		w := windows[i]
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		w.CreatedAt = now
		w.UpdatedAt = now
		if _, err = tx.ExecContext(ctx, `INSERT INTO availability_windows (id, provider_id, day_of_week, start_time, end_time, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			w.ID, providerID, w.DayOfWeek, w.StartTime, w.EndTime, w.Active, w.CreatedAt, w.UpdatedAt); err != nil {
			err = fmt.Errorf("insert availability window: %w", err)
			return err
		}
		windows[i] = w
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace windows: %w", err)
	}
	return nil
}

// AddBlackout stores a one-off blackout exception.
func (r *ProfileRepository) AddBlackout(ctx context.Context, providerID string, blackout *models.BlackoutException) error {
	if blackout.ID == "" {
		blackout.ID = uuid.NewString()
	}
	if blackout.CreatedAt.IsZero() {
		blackout.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO blackout_exceptions (id, provider_id, blackout_date, start_time, end_time, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		blackout.ID, providerID, blackout.Date, blackout.StartTime, blackout.EndTime, blackout.Notes, blackout.CreatedAt); err != nil {
		return fmt.Errorf("insert blackout exception: %w", err)
	}
	return nil
}

// DeleteBlackout removes a blackout exception by id.
func (r *ProfileRepository) DeleteBlackout(ctx context.Context, providerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blackout_exceptions WHERE id = $1 AND provider_id = $2`, id, providerID)
	if err != nil {
		return fmt.Errorf("delete blackout exception: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete blackout exception rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
