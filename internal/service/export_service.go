package service

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/dto"
	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/export"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

var assignmentColumns = []export.Column{
	{Key: "student", Title: "Student", Width: 2},
	{Key: "email", Title: "Email", Width: 2},
	{Key: "course_code", Title: "Course"},
	{Key: "course_name", Title: "Course Name", Width: 2},
	{Key: "preference", Title: "Preference"},
	{Key: "assigned_at", Title: "Assigned At", Width: 1.5},
}

// ExportService renders assignment results for download. Files are streamed
// back to the caller and never stored.
type ExportService struct {
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{csv: csv, pdf: pdf, logger: logger}
}

// Assignments renders the given assignment set in the requested format.
func (s *ExportService) Assignments(termID string, format dto.ExportFormat, items []models.AssignmentDetail) (*dto.ExportFile, error) {
	if format == "" {
		format = dto.ExportFormatCSV
	}
	dataset := export.Dataset{
		Title:   fmt.Sprintf("Course assignments %s", termID),
		Columns: assignmentColumns,
		Rows:    make([]map[string]string, 0, len(items)),
	}
	for _, item := range items {
		preference := "unranked"
		if item.AssignedPreference != nil {
			preference = strconv.Itoa(*item.AssignedPreference)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"student":     item.FullName,
			"email":       item.Email,
			"course_code": item.CourseCode,
			"course_name": item.CourseName,
			"preference":  preference,
			"assigned_at": item.AssignedAt.UTC().Format(time.RFC3339),
		})
	}

	var (
		content     []byte
		err         error
		contentType string
	)
	switch format {
	case dto.ExportFormatCSV:
		content, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case dto.ExportFormatPDF:
		content, err = s.pdf.Render(dataset)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if err != nil {
		s.logger.Error("render assignment export", zap.String("term_id", termID), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	return &dto.ExportFile{
		Filename:    fmt.Sprintf("assignments-%s.%s", termID, format),
		ContentType: contentType,
		Content:     content,
	}, nil
}
