package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/dto"
	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

type selectionService interface {
	Submit(ctx context.Context, userID string, req dto.SubmitSelectionRequest) (*models.Selection, error)
	Remove(ctx context.Context, userID, selectionID string) error
	Clear(ctx context.Context, userID, termID string) (int, error)
	List(ctx context.Context, userID, termID string) ([]models.SelectionDetail, error)
}

// SelectionHandler exposes a student's own selection endpoints.
type SelectionHandler struct {
	service selectionService
}

// NewSelectionHandler constructs a selection handler.
func NewSelectionHandler(svc selectionService) *SelectionHandler {
	return &SelectionHandler{service: svc}
}

// Submit godoc
// @Summary Submit a ranked course selection
// @Description Records a course for a preference rank. Submitting a new course for a held rank replaces it.
// @Tags Selections
// @Accept json
// @Produce json
// @Param payload body dto.SubmitSelectionRequest true "Selection payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /selections [post]
func (h *SelectionHandler) Submit(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req dto.SubmitSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	selection, err := h.service.Submit(c.Request.Context(), userID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, selection, nil)
}

// Remove godoc
// @Summary Remove a selection
// @Tags Selections
// @Param id path string true "Selection ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /selections/{id} [delete]
func (h *SelectionHandler) Remove(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	if err := h.service.Remove(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List own selections for a term
// @Tags Selections
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{termId}/selections [get]
func (h *SelectionHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), userID, c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Clear godoc
// @Summary Remove all own selections for a term
// @Tags Selections
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /terms/{termId}/selections [delete]
func (h *SelectionHandler) Clear(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	termID := c.Param("termId")
	removed, err := h.service.Clear(c.Request.Context(), userID, termID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ClearSelectionsResponse{TermID: termID, Removed: removed}, nil)
}
