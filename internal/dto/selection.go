package dto

// SubmitSelectionRequest records a course choice for one rank slot.
type SubmitSelectionRequest struct {
	TermID         string `json:"termId" validate:"required"`
	CourseID       string `json:"courseId" validate:"required"`
	PreferenceRank int    `json:"preferenceRank" validate:"required,min=1"`
}

// ClearSelectionsResponse reports how many selections were removed.
type ClearSelectionsResponse struct {
	TermID  string `json:"termId"`
	Removed int    `json:"removed"`
}
