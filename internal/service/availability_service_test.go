package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/models"
)

// Etc/GMT zones invert the sign: Etc/GMT-2 is UTC+2, Etc/GMT+3 is UTC-3.
// Fixed offsets keep the cross-zone expectations stable year round.
const (
	zoneEast = "Etc/GMT-2"
	zoneWest = "Etc/GMT+3"
)

type profileStoreStub struct {
	profile *models.AvailabilityProfile
	err     error
}

func (s *profileStoreStub) GetProfile(ctx context.Context, providerID string) (*models.AvailabilityProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.profile
	return &cp, nil
}

func (s *profileStoreStub) ReplaceWindows(ctx context.Context, providerID, zone string, windows []models.TimeWindow) error {
	s.profile.Zone = zone
	s.profile.Windows = windows
	return nil
}

func (s *profileStoreStub) AddBlackout(ctx context.Context, providerID string, blackout *models.BlackoutException) error {
	s.profile.Blackouts = append(s.profile.Blackouts, *blackout)
	return nil
}

func (s *profileStoreStub) DeleteBlackout(ctx context.Context, providerID, id string) error {
	return nil
}

type bookingListerStub struct {
	bookings []models.LessonInstance
	err      error
}

func (s *bookingListerStub) ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bookings, nil
}

func newAvailabilityService(profile *models.AvailabilityProfile, bookings []models.LessonInstance) *AvailabilityService {
	return NewAvailabilityService(
		&profileStoreStub{profile: profile},
		&bookingListerStub{bookings: bookings},
		nil, nil, nil, zap.NewNop(),
		AvailabilityConfig{ProviderID: "provider-1", SlotStepMinutes: 30},
	)
}

// 2026-01-05 is a Monday.
func mondayProfile() *models.AvailabilityProfile {
	return &models.AvailabilityProfile{
		ProviderID: "provider-1",
		Zone:       zoneEast,
		Windows: []models.TimeWindow{
			{DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", Active: true},
		},
	}
}

func TestComputeSlotsCrossZone(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)

	// Provider Monday 09:00-12:00 UTC+2 is 07:00-10:00 UTC, which the UTC-3
	// viewer sees as 04:00-07:00. A 30-minute slot ending exactly at the
	// window close (06:30 viewer, 10:00 UTC) is not offered.
	resp, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 30,
		Zone:            zoneWest,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"04:00", "04:30", "05:00", "05:30", "06:00"}, resp.Slots)
}

func TestComputeSlotsDeterministic(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)
	query := dto.SlotQuery{Date: "2026-01-05", DurationMinutes: 60, Zone: zoneEast}

	first, err := svc.ComputeSlots(context.Background(), query)
	require.NoError(t, err)
	second, err := svc.ComputeSlots(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, first.Slots, second.Slots)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30"}, first.Slots)
}

func TestComputeSlotsBookingOcclusion(t *testing.T) {
	bookings := []models.LessonInstance{
		{ID: "l1", Date: "2026-01-05", StartTime: "10:00", DurationMinutes: 60, Zone: zoneEast, Status: models.LessonStatusUpcoming},
	}
	svc := newAvailabilityService(mondayProfile(), bookings)

	resp, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 60,
		Zone:            zoneEast,
	})
	require.NoError(t, err)
	// 09:00 ends exactly as the booking starts and stays bookable; every
	// later hour either overlaps the booking or runs into the window close.
	assert.Equal(t, []string{"09:00"}, resp.Slots)

	resp, err = svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 30,
		Zone:            zoneEast,
	})
	require.NoError(t, err)
	// Half-open intervals: a slot ending exactly at the booking start fits.
	assert.Equal(t, []string{"09:00", "09:30", "11:00"}, resp.Slots)
}

func TestComputeSlotsCancelledBookingIgnored(t *testing.T) {
	bookings := []models.LessonInstance{
		{ID: "l1", Date: "2026-01-05", StartTime: "09:00", DurationMinutes: 180, Zone: zoneEast, Status: models.LessonStatusCancelledByParticipant},
	}
	svc := newAvailabilityService(mondayProfile(), bookings)

	resp, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 60,
		Zone:            zoneEast,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30"}, resp.Slots)
}

func TestComputeSlotsBlackout(t *testing.T) {
	profile := mondayProfile()
	profile.Blackouts = []models.BlackoutException{
		{ID: "b1", Date: "2026-01-05", StartTime: "09:00", EndTime: "10:30"},
	}
	svc := newAvailabilityService(profile, nil)

	resp, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 30,
		Zone:            zoneEast,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10:30", "11:00"}, resp.Slots)
}

func TestComputeSlotsNoWindows(t *testing.T) {
	profile := &models.AvailabilityProfile{ProviderID: "provider-1", Zone: zoneEast}
	svc := newAvailabilityService(profile, nil)

	resp, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-06",
		DurationMinutes: 60,
		Zone:            zoneEast,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Slots)
	assert.NotNil(t, resp.Slots)
}

func TestComputeSlotsInactiveWindowSkipped(t *testing.T) {
	profile := mondayProfile()
	profile.Windows[0].Active = false
	svc := newAvailabilityService(profile, nil)

	resp, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 30,
		Zone:            zoneEast,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Slots)
}

func TestComputeSlotsUnknownZone(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)

	_, err := svc.ComputeSlots(context.Background(), dto.SlotQuery{
		Date:            "2026-01-05",
		DurationMinutes: 30,
		Zone:            "Mars/Olympus",
	})
	require.Error(t, err)
}

func TestDetectCollision(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)
	candidate := models.LessonInstance{
		ID: "cand", Date: "2026-01-05", StartTime: "09:00", DurationMinutes: 60, Zone: "UTC",
	}

	adjacent := models.LessonInstance{
		ID: "l1", Date: "2026-01-05", StartTime: "10:00", DurationMinutes: 60, Zone: "UTC", Status: models.LessonStatusUpcoming,
	}
	collides, err := svc.DetectCollision(context.Background(), candidate, []models.LessonInstance{adjacent})
	require.NoError(t, err)
	assert.False(t, collides, "back-to-back lessons do not collide")

	overlapping := models.LessonInstance{
		ID: "l2", Date: "2026-01-05", StartTime: "09:30", DurationMinutes: 60, Zone: "UTC", Status: models.LessonStatusUpcoming,
	}
	collides, err = svc.DetectCollision(context.Background(), candidate, []models.LessonInstance{overlapping})
	require.NoError(t, err)
	assert.True(t, collides)

	cancelled := overlapping
	cancelled.Status = models.LessonStatusCancelledByProvider
	collides, err = svc.DetectCollision(context.Background(), candidate, []models.LessonInstance{cancelled})
	require.NoError(t, err)
	assert.False(t, collides, "cancelled lessons never collide")
}

func TestDetectCollisionAcrossZones(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)

	// 09:00 UTC+2 and 04:30 UTC-3 name overlapping instants.
	candidate := models.LessonInstance{
		ID: "cand", Date: "2026-01-05", StartTime: "09:00", DurationMinutes: 60, Zone: zoneEast,
	}
	other := models.LessonInstance{
		ID: "l1", Date: "2026-01-05", StartTime: "04:30", DurationMinutes: 60, Zone: zoneWest, Status: models.LessonStatusUpcoming,
	}
	collides, err := svc.DetectCollision(context.Background(), candidate, []models.LessonInstance{other})
	require.NoError(t, err)
	assert.True(t, collides)
}

func TestUpdateProfileRejectsInvertedWindow(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)

	_, err := svc.UpdateProfile(context.Background(), dto.UpdateProfileRequest{
		Zone: zoneEast,
		Windows: []dto.WindowInput{
			{DayOfWeek: 1, StartTime: "12:00", EndTime: "09:00", Active: true},
		},
	})
	require.Error(t, err)
}

func TestUpdateProfileRejectsUnknownZone(t *testing.T) {
	svc := newAvailabilityService(mondayProfile(), nil)

	_, err := svc.UpdateProfile(context.Background(), dto.UpdateProfileRequest{Zone: "Not/AZone"})
	require.Error(t, err)
}
