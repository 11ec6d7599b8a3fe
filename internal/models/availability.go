package models

import "time"

// TimeWindow is a recurring weekly open interval anchored to the provider's
// weekday and zone. Sunday is weekday 0.
type TimeWindow struct {
	ID        string    `db:"id" json:"id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BlackoutException is a one-off unavailable interval in the provider's zone.
// It overrides any TimeWindow for its span.
type BlackoutException struct {
	ID        string    `db:"id" json:"id"`
	Date      string    `db:"blackout_date" json:"date"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AvailabilityProfile aggregates a provider's home zone, recurring windows and
// dated blackout exceptions. Mutated only by the provider.
type AvailabilityProfile struct {
	ProviderID string              `json:"provider_id"`
	Zone       string              `json:"zone"`
	Windows    []TimeWindow        `json:"windows"`
	Blackouts  []BlackoutException `json:"blackouts"`
}

// ActiveWindowsForWeekday filters the profile's enabled windows by weekday.
func (p AvailabilityProfile) ActiveWindowsForWeekday(day int) []TimeWindow {
	var result []TimeWindow
	for _, w := range p.Windows {
		if w.Active && w.DayOfWeek == day {
			result = append(result, w)
		}
	}
	return result
}
