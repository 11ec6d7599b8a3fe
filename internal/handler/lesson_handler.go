package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/scheduling-api/internal/dto"
	"github.com/lessonloop/scheduling-api/internal/service"
	appErrors "github.com/lessonloop/scheduling-api/pkg/errors"
	"github.com/lessonloop/scheduling-api/pkg/response"
)

// LessonHandler exposes lesson lifecycle endpoints.
type LessonHandler struct {
	lessons    *service.LessonService
	recurrence *service.RecurrenceService
	reschedule *service.RescheduleService
}

// NewLessonHandler constructs LessonHandler.
func NewLessonHandler(lessons *service.LessonService, recurrence *service.RecurrenceService, reschedule *service.RescheduleService) *LessonHandler {
	return &LessonHandler{lessons: lessons, recurrence: recurrence, reschedule: reschedule}
}

// List godoc
// @Summary List lessons
// @Tags Lessons
// @Produce json
// @Param participantId query string false "Filter by participant"
// @Param status query string false "Filter by status"
// @Param seriesId query string false "Filter by series"
// @Param from query string false "Date lower bound (YYYY-MM-DD)"
// @Param to query string false "Date upper bound (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /lessons [get]
func (h *LessonHandler) List(c *gin.Context) {
	query := dto.LessonListQuery{
		ParticipantID: c.Query("participantId"),
		Status:        c.Query("status"),
		SeriesID:      c.Query("seriesId"),
		DateFrom:      c.Query("from"),
		DateTo:        c.Query("to"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		query.PageSize = size
	}

	lessons, pagination, err := h.lessons.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lessons, pagination)
}

// Get godoc
// @Summary Lesson detail
// @Tags Lessons
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id} [get]
func (h *LessonHandler) Get(c *gin.Context) {
	lesson, err := h.lessons.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// Book godoc
// @Summary Book a single lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Param payload body dto.BookLessonRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Router /lessons [post]
func (h *LessonHandler) Book(c *gin.Context) {
	var req dto.BookLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	lesson, err := h.lessons.Book(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lesson)
}

// CreateSeries godoc
// @Summary Create a recurring lesson series
// @Tags Lessons
// @Accept json
// @Produce json
// @Param payload body dto.CreateSeriesRequest true "Series payload"
// @Success 201 {object} response.Envelope
// @Router /lessons/series [post]
func (h *LessonHandler) CreateSeries(c *gin.Context) {
	var req dto.CreateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	series, err := h.recurrence.CreateSeries(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, series)
}

// Cancel godoc
// @Summary Cancel a lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.CancelLessonRequest true "Cancel payload"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id}/cancel [post]
func (h *LessonHandler) Cancel(c *gin.Context) {
	var req dto.CancelLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	lesson, penalised, err := h.lessons.Cancel(c.Request.Context(), actorID(c), actorRole(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil, map[string]interface{}{"penalty_charged": penalised})
}

// Complete godoc
// @Summary Mark a lesson as held
// @Tags Lessons
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id}/complete [post]
func (h *LessonHandler) Complete(c *gin.Context) {
	lesson, err := h.lessons.Complete(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// EditFollowing godoc
// @Summary Move this and all following series instances
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.EditFollowingRequest true "Edit payload"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id}/following [post]
func (h *LessonHandler) EditFollowing(c *gin.Context) {
	var req dto.EditFollowingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	result, err := h.reschedule.EditFollowing(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Balance godoc
// @Summary Current lesson-credit balance
// @Tags Lessons
// @Produce json
// @Param participantId query string false "Participant id, defaults to the caller"
// @Success 200 {object} response.Envelope
// @Router /lessons/balance [get]
func (h *LessonHandler) Balance(c *gin.Context) {
	participantID := c.Query("participantId")
	if participantID == "" {
		participantID = actorID(c)
	}
	credits, err := h.lessons.CreditBalance(c.Request.Context(), participantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"participant_id": participantID, "credits": credits}, nil)
}

// Export godoc
// @Summary Export the timetable as CSV or PDF
// @Tags Lessons
// @Produce text/csv
// @Param format query string false "csv or pdf"
// @Param participantId query string false "Filter by participant"
// @Param from query string false "Date lower bound (YYYY-MM-DD)"
// @Param to query string false "Date upper bound (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Router /lessons/export [get]
func (h *LessonHandler) Export(c *gin.Context) {
	query := dto.LessonListQuery{
		ParticipantID: c.Query("participantId"),
		Status:        c.Query("status"),
		SeriesID:      c.Query("seriesId"),
		DateFrom:      c.Query("from"),
		DateTo:        c.Query("to"),
	}
	format := c.DefaultQuery("format", "csv")

	payload, contentType, err := h.lessons.ExportTimetable(c.Request.Context(), query, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("timetable-%s.%s", time.Now().UTC().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
