// Package timezone converts between wall-clock (date, time, zone) triples and
// absolute instants. All functions are pure; zone offsets are resolved per date
// through the IANA database, so seasonal offset changes are honored.
package timezone

import (
	"fmt"
	"time"

	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
)

const (
	// DateLayout is the canonical wall-clock date format.
	DateLayout = "2006-01-02"
	// ClockLayout is the canonical wall-clock time-of-day format.
	ClockLayout = "15:04"
)

// ToInstant resolves a (date, clock, zone) triple to an absolute instant.
func ToInstant(date, clock, zone string) (time.Time, error) {
	loc, err := loadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid wall-clock value %q %q", date, clock))
	}
	return t, nil
}

// ToWallClock projects an absolute instant into a zone's wall-clock date and time.
func ToWallClock(t time.Time, zone string) (date, clock string, err error) {
	loc, err := loadZone(zone)
	if err != nil {
		return "", "", err
	}
	local := t.In(loc)
	return local.Format(DateLayout), local.Format(ClockLayout), nil
}

// DayBounds returns the half-open absolute span [start, end) of a calendar
// date as observed in the given zone.
func DayBounds(date, zone string) (time.Time, time.Time, error) {
	start, err := ToInstant(date, "00:00", zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	next, err := AddDays(date, 1)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ToInstant(next, "00:00", zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// AddDays shifts a calendar date by n days using absolute-date arithmetic.
func AddDays(date string, n int) (string, error) {
	t, err := parseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// Weekday reports the weekday of a calendar date (Sunday = 0).
func Weekday(date string) (time.Weekday, error) {
	t, err := parseDate(date)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b string) (int, error) {
	ta, err := parseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := parseDate(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

func parseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("invalid date %q", date))
	}
	return t, nil
}

func loadZone(zone string) (*time.Location, error) {
	if zone == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidZone, "time zone is required")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidZone.Code, appErrors.ErrInvalidZone.Status, fmt.Sprintf("unknown time zone %q", zone))
	}
	return loc, nil
}
