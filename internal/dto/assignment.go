package dto

// ExportFormat enumerates assignment export renderings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// AssignmentExportQuery binds the export endpoint query string.
type AssignmentExportQuery struct {
	Format ExportFormat `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}
