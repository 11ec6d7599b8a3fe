package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/service"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/response"
)

// RescheduleHandler exposes the reschedule request workflow.
type RescheduleHandler struct {
	reschedule *service.RescheduleService
}

// NewRescheduleHandler constructs RescheduleHandler.
func NewRescheduleHandler(reschedule *service.RescheduleService) *RescheduleHandler {
	return &RescheduleHandler{reschedule: reschedule}
}

// Create godoc
// @Summary Open a reschedule request
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param payload body dto.CreateRescheduleRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /reschedules [post]
func (h *RescheduleHandler) Create(c *gin.Context) {
	var req dto.CreateRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	request, err := h.reschedule.Request(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// PendingForLesson godoc
// @Summary Get the pending reschedule request for a lesson
// @Tags Reschedules
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id}/reschedule [get]
func (h *RescheduleHandler) PendingForLesson(c *gin.Context) {
	request, err := h.reschedule.PendingForLesson(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Approve godoc
// @Summary Approve a reschedule request at one of the proposed slots
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApproveRescheduleRequest true "Chosen slot"
// @Success 200 {object} response.Envelope
// @Router /reschedules/{id}/approve [post]
func (h *RescheduleHandler) Approve(c *gin.Context) {
	var req dto.ApproveRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	decision, err := h.reschedule.Approve(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Reject godoc
// @Summary Reject a reschedule request
// @Tags Reschedules
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /reschedules/{id}/reject [post]
func (h *RescheduleHandler) Reject(c *gin.Context) {
	decision, err := h.reschedule.Reject(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}
