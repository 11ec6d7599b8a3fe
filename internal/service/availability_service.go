package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/models"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/timezone"
)

type profileStore interface {
	GetProfile(ctx context.Context, providerID string) (*models.AvailabilityProfile, error)
	ReplaceWindows(ctx context.Context, providerID, zone string, windows []models.TimeWindow) error
	AddBlackout(ctx context.Context, providerID string, blackout *models.BlackoutException) error
	DeleteBlackout(ctx context.Context, providerID, id string) error
}

type bookingLister interface {
	ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error)
}

// AvailabilityConfig tunes slot generation.
type AvailabilityConfig struct {
	ProviderID      string
	SlotStepMinutes int
}

// AvailabilityService computes bookable slots from the provider's recurring
// windows, blackout exceptions and existing bookings. Stateless between
// calls: every computation rereads current booking data.
type AvailabilityService struct {
	profiles  profileStore
	lessons   bookingLister
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AvailabilityConfig
}

// NewAvailabilityService wires availability dependencies.
func NewAvailabilityService(profiles profileStore, lessons bookingLister, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AvailabilityConfig) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlotStepMinutes <= 0 {
		cfg.SlotStepMinutes = 30
	}
	return &AvailabilityService{
		profiles:  profiles,
		lessons:   lessons,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// ComputeSlots returns the sorted, de-duplicated bookable start times for a
// viewer-local calendar date. Empty availability yields an empty list.
func (s *AvailabilityService) ComputeSlots(ctx context.Context, query dto.SlotQuery) (*dto.SlotsResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot query")
	}

	profile, err := s.loadProfile(ctx)
	if err != nil {
		return nil, err
	}

	// A booking recorded in another zone can spill into the viewer's day, so
	// the fetch range is padded by one calendar day on each side.
	from, err := timezone.AddDays(query.Date, -1)
	if err != nil {
		return nil, err
	}
	to, err := timezone.AddDays(query.Date, 1)
	if err != nil {
		return nil, err
	}
	bookings, err := s.lessons.ListActiveBetween(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}

	slots, err := computeSlots(*profile, bookings, query.Date, query.DurationMinutes, s.cfg.SlotStepMinutes, query.Zone)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSlotComputation(len(slots))

	return &dto.SlotsResponse{
		Date:            query.Date,
		Zone:            query.Zone,
		DurationMinutes: query.DurationMinutes,
		SlotStepMinutes: s.cfg.SlotStepMinutes,
		Slots:           slots,
	}, nil
}

// DetectCollision reports whether the candidate lesson overlaps any of the
// given bookings. Cancelled bookings never collide. The decision is returned
// as a boolean so callers can choose to block or force-proceed.
func (s *AvailabilityService) DetectCollision(ctx context.Context, candidate models.LessonInstance, bookings []models.LessonInstance) (bool, error) {
	cand, err := lessonInterval(candidate)
	if err != nil {
		return false, err
	}
	for _, booking := range bookings {
		if booking.ID != "" && booking.ID == candidate.ID {
			continue
		}
		if booking.Status.Cancelled() {
			continue
		}
		existing, err := lessonInterval(booking)
		if err != nil {
			return false, err
		}
		if cand.overlaps(existing) {
			s.metrics.RecordCollision()
			return true, nil
		}
	}
	return false, nil
}

// CheckSlot fetches current bookings around the candidate's date and reports a
// collision against them.
func (s *AvailabilityService) CheckSlot(ctx context.Context, candidate models.LessonInstance) (bool, error) {
	from, err := timezone.AddDays(candidate.Date, -1)
	if err != nil {
		return false, err
	}
	to, err := timezone.AddDays(candidate.Date, 1)
	if err != nil {
		return false, err
	}
	bookings, err := s.lessons.ListActiveBetween(ctx, from, to)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookings")
	}
	return s.DetectCollision(ctx, candidate, bookings)
}

// GetProfile returns the provider's availability profile, served from cache
// when enabled.
func (s *AvailabilityService) GetProfile(ctx context.Context) (*models.AvailabilityProfile, error) {
	return s.loadProfile(ctx)
}

// UpdateProfile replaces the provider's zone and weekly windows.
func (s *AvailabilityService) UpdateProfile(ctx context.Context, req dto.UpdateProfileRequest) (*models.AvailabilityProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	// Probing a fixed date validates that the zone name resolves.
	if _, err := timezone.ToInstant("2000-01-01", "00:00", req.Zone); err != nil {
		return nil, err
	}
	windows := make([]models.TimeWindow, 0, len(req.Windows))
	for _, w := range req.Windows {
		if w.EndTime <= w.StartTime {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("window %s-%s on day %d must end after it starts", w.StartTime, w.EndTime, w.DayOfWeek))
		}
		windows = append(windows, models.TimeWindow{
			DayOfWeek: w.DayOfWeek,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Active:    w.Active,
		})
	}
	if err := s.profiles.ReplaceWindows(ctx, s.cfg.ProviderID, req.Zone, windows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update availability profile")
	}
	s.cache.Invalidate(ctx, s.profileCacheKey())
	return s.profiles.GetProfile(ctx, s.cfg.ProviderID)
}

// AddBlackout records a one-off unavailable interval in the provider's zone.
func (s *AvailabilityService) AddBlackout(ctx context.Context, req dto.BlackoutRequest) (*models.BlackoutException, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid blackout payload")
	}
	if req.EndTime <= req.StartTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "blackout must end after it starts")
	}
	blackout := &models.BlackoutException{
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     req.Notes,
	}
	if err := s.profiles.AddBlackout(ctx, s.cfg.ProviderID, blackout); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add blackout exception")
	}
	s.cache.Invalidate(ctx, s.profileCacheKey())
	return blackout, nil
}

// RemoveBlackout deletes a blackout exception.
func (s *AvailabilityService) RemoveBlackout(ctx context.Context, id string) error {
	if id == "" {
		return appErrors.Clone(appErrors.ErrValidation, "blackout id is required")
	}
	if err := s.profiles.DeleteBlackout(ctx, s.cfg.ProviderID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "blackout exception not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete blackout exception")
	}
	s.cache.Invalidate(ctx, s.profileCacheKey())
	return nil
}

func (s *AvailabilityService) profileCacheKey() string {
	return "availability:profile:" + s.cfg.ProviderID
}

func (s *AvailabilityService) loadProfile(ctx context.Context) (*models.AvailabilityProfile, error) {
	key := s.profileCacheKey()
	var cached models.AvailabilityProfile
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}
	profile, err := s.profiles.GetProfile(ctx, s.cfg.ProviderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability profile")
	}
	s.cache.Set(ctx, key, profile)
	return profile, nil
}

// --- Slot generation core ---

type interval struct {
	start time.Time
	end   time.Time
}

// overlaps uses half-open semantics: [a, b) and [b, c) do not overlap.
func (i interval) overlaps(o interval) bool {
	return i.start.Before(o.end) && i.end.After(o.start)
}

func lessonInterval(l models.LessonInstance) (interval, error) {
	start, err := timezone.ToInstant(l.Date, l.StartTime, l.Zone)
	if err != nil {
		return interval{}, err
	}
	return interval{start: start, end: start.Add(time.Duration(l.DurationMinutes) * time.Minute)}, nil
}

// computeSlots walks the provider's open windows that intersect the viewer's
// day and emits every step-aligned candidate that fits strictly inside an open
// window, lies inside the viewer-local day and touches no occupied interval.
func computeSlots(profile models.AvailabilityProfile, bookings []models.LessonInstance, date string, durationMin, stepMin int, viewerZone string) ([]string, error) {
	dayStart, dayEnd, err := timezone.DayBounds(date, viewerZone)
	if err != nil {
		return nil, err
	}

	open, err := openWindows(profile, date, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return []string{}, nil
	}

	occupied, err := occupiedIntervals(profile, bookings)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(durationMin) * time.Minute
	step := time.Duration(stepMin) * time.Minute
	seen := make(map[string]struct{})
	var slots []string

	for _, window := range open {
		start := window.start
		if start.Before(dayStart) {
			start = dayStart
		}
		for cursor := start; ; cursor = cursor.Add(step) {
			slotEnd := cursor.Add(duration)
			// Strict fit: a slot ending exactly at the window boundary is
			// not offered.
			if !slotEnd.Before(window.end) {
				break
			}
			if cursor.Before(dayStart) || slotEnd.After(dayEnd) {
				continue
			}
			candidate := interval{start: cursor, end: slotEnd}
			if intersectsAny(candidate, occupied) {
				continue
			}
			_, clock, err := timezone.ToWallClock(cursor, viewerZone)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[clock]; dup {
				continue
			}
			seen[clock] = struct{}{}
			slots = append(slots, clock)
		}
	}

	sort.Strings(slots)
	if slots == nil {
		slots = []string{}
	}
	return slots, nil
}

// openWindows projects the provider's recurring windows onto absolute time.
// The viewer's calendar day can straddle two provider-local days, so the
// provider weekday is evaluated for the target date and its two neighbours.
func openWindows(profile models.AvailabilityProfile, date string, dayStart, dayEnd time.Time) ([]interval, error) {
	span := interval{start: dayStart, end: dayEnd}
	var open []interval
	for offset := -1; offset <= 1; offset++ {
		candidateDate, err := timezone.AddDays(date, offset)
		if err != nil {
			return nil, err
		}
		weekday, err := timezone.Weekday(candidateDate)
		if err != nil {
			return nil, err
		}
		for _, window := range profile.ActiveWindowsForWeekday(int(weekday)) {
			start, err := timezone.ToInstant(candidateDate, window.StartTime, profile.Zone)
			if err != nil {
				return nil, err
			}
			end, err := timezone.ToInstant(candidateDate, window.EndTime, profile.Zone)
			if err != nil {
				return nil, err
			}
			if !end.After(start) {
				continue
			}
			projected := interval{start: start, end: end}
			if projected.overlaps(span) {
				open = append(open, projected)
			}
		}
	}
	return open, nil
}

// occupiedIntervals converts non-cancelled bookings (in their own recorded
// zones) and blackout exceptions (in the provider zone) to absolute intervals.
func occupiedIntervals(profile models.AvailabilityProfile, bookings []models.LessonInstance) ([]interval, error) {
	var occupied []interval
	for _, booking := range bookings {
		if booking.Status.Cancelled() {
			continue
		}
		iv, err := lessonInterval(booking)
		if err != nil {
			return nil, err
		}
		occupied = append(occupied, iv)
	}
	for _, blackout := range profile.Blackouts {
		start, err := timezone.ToInstant(blackout.Date, blackout.StartTime, profile.Zone)
		if err != nil {
			return nil, err
		}
		end, err := timezone.ToInstant(blackout.Date, blackout.EndTime, profile.Zone)
		if err != nil {
			return nil, err
		}
		if !end.After(start) {
			continue
		}
		occupied = append(occupied, interval{start: start, end: end})
	}
	return occupied, nil
}

func intersectsAny(candidate interval, occupied []interval) bool {
	for _, iv := range occupied {
		if candidate.overlaps(iv) {
			return true
		}
	}
	return false
}
