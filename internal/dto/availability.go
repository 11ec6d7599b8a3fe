package dto

// SlotQuery asks for bookable start times on a viewer-local calendar date.
type SlotQuery struct {
	Date            string `form:"date" validate:"required,datetime=2006-01-02"`
	DurationMinutes int    `form:"duration" validate:"required,min=15,max=480"`
	Zone            string `form:"zone" validate:"required"`
}

// SlotsResponse lists the sorted, de-duplicated viewer-local start times.
type SlotsResponse struct {
	Date            string   `json:"date"`
	Zone            string   `json:"zone"`
	DurationMinutes int      `json:"duration_minutes"`
	SlotStepMinutes int      `json:"slot_step_minutes"`
	Slots           []string `json:"slots"`
}

// WindowInput is one recurring weekly open window in the provider's zone.
type WindowInput struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	Active    bool   `json:"active"`
}

// UpdateProfileRequest replaces the provider's zone and weekly windows.
type UpdateProfileRequest struct {
	Zone    string        `json:"zone" validate:"required"`
	Windows []WindowInput `json:"windows" validate:"dive"`
}

// BlackoutRequest adds a one-off unavailable interval in the provider's zone.
type BlackoutRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
	Notes     string `json:"notes"`
}
