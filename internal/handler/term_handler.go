package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/response"
)

type termService interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.TermView, *models.Pagination, error)
	Active(ctx context.Context) (*models.TermView, error)
	Get(ctx context.Context, id string) (*models.TermView, error)
}

type courseService interface {
	Availability(ctx context.Context, termID string, filter models.CourseFilter) ([]models.CourseAvailability, error)
}

// TermHandler exposes term and course availability endpoints.
type TermHandler struct {
	terms   termService
	courses courseService
}

// NewTermHandler constructs a term handler.
func NewTermHandler(terms termService, courses courseService) *TermHandler {
	return &TermHandler{terms: terms, courses: courses}
}

// List godoc
// @Summary List terms
// @Description List terms with their selection window state
// @Tags Terms
// @Produce json
// @Param year query int false "Filter by year"
// @Param season query string false "Filter by season"
// @Param isActive query bool false "Filter by active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /terms [get]
func (h *TermHandler) List(c *gin.Context) {
	var filter models.TermFilter
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	if season := c.Query("season"); season != "" {
		filter.Season = models.Season(strings.ToUpper(season))
	}
	if isActive := c.Query("isActive"); isActive != "" {
		if val, err := strconv.ParseBool(isActive); err == nil {
			filter.IsActive = &val
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	terms, pagination, err := h.terms.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, pagination)
}

// Active godoc
// @Summary Get active term
// @Tags Terms
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /terms/active [get]
func (h *TermHandler) Active(c *gin.Context) {
	term, err := h.terms.Active(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Get godoc
// @Summary Get term
// @Tags Terms
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{termId} [get]
func (h *TermHandler) Get(c *gin.Context) {
	term, err := h.terms.Get(c.Request.Context(), c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Courses godoc
// @Summary List course availability
// @Description Courses of a term with live seat counts. Clients re-fetch this after reconnecting.
// @Tags Courses
// @Produce json
// @Param termId path string true "Term ID"
// @Param courseType query string false "Filter by course type"
// @Param groupCode query string false "Filter by group code"
// @Param search query string false "Search code, name or instructor"
// @Success 200 {object} response.Envelope
// @Router /terms/{termId}/courses [get]
func (h *TermHandler) Courses(c *gin.Context) {
	filter := models.CourseFilter{
		CourseType: c.Query("courseType"),
		GroupCode:  c.Query("groupCode"),
		Search:     c.Query("search"),
	}
	items, err := h.courses.Availability(c.Request.Context(), c.Param("termId"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
