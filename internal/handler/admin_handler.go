package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/dto"
	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

type adminSelectionService interface {
	ListForTerm(ctx context.Context, termID string) ([]models.StudentSelections, error)
	AuditTrail(ctx context.Context, userID, termID string) ([]models.AuditEntry, error)
}

type assignmentService interface {
	Trigger(ctx context.Context, termID string) (*models.AssignmentRun, error)
	List(ctx context.Context, termID string) ([]models.AssignmentDetail, error)
	Export(ctx context.Context, termID string, format dto.ExportFormat) (*dto.ExportFile, error)
}

// AdminHandler exposes administrative selection and assignment endpoints.
type AdminHandler struct {
	selections  adminSelectionService
	assignments assignmentService
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(selections adminSelectionService, assignments assignmentService) *AdminHandler {
	return &AdminHandler{selections: selections, assignments: assignments}
}

// Selections godoc
// @Summary List every student's selections for a term
// @Tags Admin
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /admin/terms/{termId}/selections [get]
func (h *AdminHandler) Selections(c *gin.Context) {
	items, err := h.selections.ListForTerm(c.Request.Context(), c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil, map[string]interface{}{"students": len(items)})
}

// Audit godoc
// @Summary Selection audit trail of a student
// @Tags Admin
// @Produce json
// @Param termId path string true "Term ID"
// @Param userId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /admin/terms/{termId}/audit [get]
func (h *AdminHandler) Audit(c *gin.Context) {
	entries, err := h.selections.AuditTrail(c.Request.Context(), c.Query("userId"), c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// TriggerAssignment godoc
// @Summary Run the assignment for a term
// @Description Runs the configured solver synchronously, replaces the previous result and notifies subscribers.
// @Tags Admin
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /admin/terms/{termId}/assignments [post]
func (h *AdminHandler) TriggerAssignment(c *gin.Context) {
	run, err := h.assignments.Trigger(c.Request.Context(), c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Assignments godoc
// @Summary List assignment results
// @Tags Admin
// @Produce json
// @Param termId path string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /admin/terms/{termId}/assignments [get]
func (h *AdminHandler) Assignments(c *gin.Context) {
	items, err := h.assignments.List(c.Request.Context(), c.Param("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ExportAssignments godoc
// @Summary Download assignment results
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param termId path string true "Term ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /admin/terms/{termId}/assignments/export [get]
func (h *AdminHandler) ExportAssignments(c *gin.Context) {
	var query dto.AssignmentExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	query.Format = dto.ExportFormat(strings.ToLower(string(query.Format)))
	file, err := h.assignments.Export(c.Request.Context(), c.Param("termId"), query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Content)
}
