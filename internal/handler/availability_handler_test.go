package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/scheduling-api/internal/models"
	"github.com/lessonloop/scheduling-api/internal/service"
	"github.com/lessonloop/scheduling-api/pkg/response"
)

type profileStoreMock struct {
	profile models.AvailabilityProfile
}

func (m *profileStoreMock) GetProfile(ctx context.Context, providerID string) (*models.AvailabilityProfile, error) {
	cp := m.profile
	return &cp, nil
}

func (m *profileStoreMock) ReplaceWindows(ctx context.Context, providerID, zone string, windows []models.TimeWindow) error {
	return nil
}

func (m *profileStoreMock) AddBlackout(ctx context.Context, providerID string, blackout *models.BlackoutException) error {
	return nil
}

func (m *profileStoreMock) DeleteBlackout(ctx context.Context, providerID, id string) error {
	return nil
}

type bookingListerMock struct{}

func (m *bookingListerMock) ListActiveBetween(ctx context.Context, from, to string) ([]models.LessonInstance, error) {
	return nil, nil
}

func newTestAvailabilityHandler() *AvailabilityHandler {
	store := &profileStoreMock{profile: models.AvailabilityProfile{
		ProviderID: "provider-1",
		Zone:       "UTC",
		Windows: []models.TimeWindow{
			{DayOfWeek: 1, StartTime: "09:00", EndTime: "11:00", Active: true},
		},
	}}
	svc := service.NewAvailabilityService(store, &bookingListerMock{}, nil, nil, nil, zap.NewNop(), service.AvailabilityConfig{
		ProviderID:      "provider-1",
		SlotStepMinutes: 30,
	})
	return NewAvailabilityHandler(svc)
}

func TestAvailabilityHandlerSlots(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAvailabilityHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	// 2026-01-05 is a Monday.
	req, _ := http.NewRequest(http.MethodGet, "/availability/slots?date=2026-01-05&duration=30&zone=UTC", nil)
	c.Request = req

	handler.Slots(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var resp struct {
		Slots []string `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, resp.Slots)
}

func TestAvailabilityHandlerSlotsMissingDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAvailabilityHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/availability/slots?duration=30&zone=UTC", nil)
	c.Request = req

	handler.Slots(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvailabilityHandlerUpdateProfileInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestAvailabilityHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/availability/profile", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.UpdateProfile(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
