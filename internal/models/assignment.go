package models

import "time"

// AssignmentRecord is the final placement of one student for a term.
// AssignedPreference is nil when no ranked choice could be honoured.
type AssignmentRecord struct {
	UserID             string    `db:"user_id" json:"user_id"`
	TermID             string    `db:"term_id" json:"term_id"`
	CourseID           string    `db:"course_id" json:"course_id"`
	AssignedPreference *int      `db:"assigned_preference" json:"assigned_preference,omitempty"`
	AssignedAt         time.Time `db:"assigned_at" json:"assigned_at"`
}

// AssignmentDetail joins an assignment with student and course labels.
type AssignmentDetail struct {
	AssignmentRecord
	FullName   string `db:"full_name" json:"full_name"`
	Email      string `db:"email" json:"email"`
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name"`
}

// CourseCapacity is the capacity input handed to an assignment run.
type CourseCapacity struct {
	CourseID string `db:"id" json:"course_id"`
	Capacity int    `db:"capacity" json:"capacity"`
}

// AssignmentSnapshot is every selection and course capacity of a term as of
// one consistent read.
type AssignmentSnapshot struct {
	TermID     string           `json:"term_id"`
	Selections []Selection      `json:"selections"`
	Courses    []CourseCapacity `json:"courses"`
	Version    int64            `json:"version"`
	TakenAt    time.Time        `json:"taken_at"`
}

// AssignmentStats summarises how well an accepted run honoured preferences.
type AssignmentStats struct {
	TotalStudents     int         `json:"total_students"`
	Assigned          int         `json:"assigned"`
	Unassigned        int         `json:"unassigned"`
	ByPreference      map[int]int `json:"by_preference"`
	SatisfactionScore float64     `json:"satisfaction_score"`
}

// AssignmentRun is the outcome returned to the administrator who triggered it.
type AssignmentRun struct {
	TermID      string          `json:"term_id"`
	Records     int             `json:"records"`
	Stats       AssignmentStats `json:"stats"`
	CompletedAt time.Time       `json:"completed_at"`
}
