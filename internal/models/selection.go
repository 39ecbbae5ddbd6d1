package models

import "time"

// SelectionStatus tracks a selection through an assignment run.
type SelectionStatus string

const (
	SelectionStatusPending  SelectionStatus = "pending"
	SelectionStatusAssigned SelectionStatus = "assigned"
	SelectionStatusRejected SelectionStatus = "rejected"
)

// Selection is one student's claim on one rank slot for one term.
type Selection struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	TermID         string          `db:"term_id" json:"term_id"`
	CourseID       string          `db:"course_id" json:"course_id"`
	PreferenceRank int             `db:"preference_rank" json:"preference_rank"`
	Status         SelectionStatus `db:"status" json:"status"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// SelectionDetail joins a selection with the descriptive course fields.
type SelectionDetail struct {
	Selection
	CourseCode    string  `db:"course_code" json:"course_code"`
	CourseName    string  `db:"course_name" json:"course_name"`
	SectionNumber string  `db:"section_number" json:"section_number"`
	CourseType    string  `db:"course_type" json:"course_type"`
	Schedule      *string `db:"schedule" json:"schedule,omitempty"`
	Instructor    *string `db:"instructor" json:"instructor,omitempty"`
}

// StudentSelectionRow is one row of the administrative overview.
type StudentSelectionRow struct {
	UserID         string          `db:"user_id"`
	FullName       string          `db:"full_name"`
	Email          string          `db:"email"`
	SelectionID    string          `db:"selection_id"`
	PreferenceRank int             `db:"preference_rank"`
	Status         SelectionStatus `db:"status"`
	CourseID       string          `db:"course_id"`
	CourseCode     string          `db:"course_code"`
	CourseName     string          `db:"course_name"`
}

// StudentSelections groups a student's ranked choices for admin review.
type StudentSelections struct {
	UserID     string                  `json:"user_id"`
	FullName   string                  `json:"full_name"`
	Email      string                  `json:"email"`
	Selections []StudentSelectionChoice `json:"selections"`
}

// StudentSelectionChoice is a single ranked choice in StudentSelections.
type StudentSelectionChoice struct {
	SelectionID    string          `json:"selection_id"`
	PreferenceRank int             `json:"preference_rank"`
	Status         SelectionStatus `json:"status"`
	CourseID       string          `json:"course_id"`
	CourseCode     string          `json:"course_code"`
	CourseName     string          `json:"course_name"`
}
