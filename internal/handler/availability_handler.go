package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/service"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/response"
)

// AvailabilityHandler exposes slot computation and profile management endpoints.
type AvailabilityHandler struct {
	availability *service.AvailabilityService
}

// NewAvailabilityHandler constructs AvailabilityHandler.
func NewAvailabilityHandler(availability *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// Slots godoc
// @Summary Bookable slots for a viewer-local date
// @Tags Availability
// @Produce json
// @Param date query string true "Calendar date (YYYY-MM-DD)"
// @Param duration query int true "Lesson duration in minutes"
// @Param zone query string true "IANA zone of the viewer"
// @Success 200 {object} response.Envelope
// @Router /availability/slots [get]
func (h *AvailabilityHandler) Slots(c *gin.Context) {
	query := dto.SlotQuery{
		Date: c.Query("date"),
		Zone: c.Query("zone"),
	}
	if duration, err := strconv.Atoi(c.DefaultQuery("duration", "60")); err == nil {
		query.DurationMinutes = duration
	}

	slots, err := h.availability.ComputeSlots(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Profile godoc
// @Summary Provider availability profile
// @Tags Availability
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /availability/profile [get]
func (h *AvailabilityHandler) Profile(c *gin.Context) {
	profile, err := h.availability.GetProfile(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// UpdateProfile godoc
// @Summary Replace the provider's zone and weekly windows
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.UpdateProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Router /availability/profile [put]
func (h *AvailabilityHandler) UpdateProfile(c *gin.Context) {
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	profile, err := h.availability.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// AddBlackout godoc
// @Summary Add a blackout exception
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.BlackoutRequest true "Blackout payload"
// @Success 201 {object} response.Envelope
// @Router /availability/blackouts [post]
func (h *AvailabilityHandler) AddBlackout(c *gin.Context) {
	var req dto.BlackoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	blackout, err := h.availability.AddBlackout(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, blackout)
}

// RemoveBlackout godoc
// @Summary Remove a blackout exception
// @Tags Availability
// @Param id path string true "Blackout ID"
// @Success 204
// @Router /availability/blackouts/{id} [delete]
func (h *AvailabilityHandler) RemoveBlackout(c *gin.Context) {
	if err := h.availability.RemoveBlackout(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
