package models

// CapacitySnapshot is the derived seat accounting of one course, read inside
// the transaction that last changed it.
type CapacitySnapshot struct {
	CourseID        string `db:"course_id" json:"course_id"`
	TermID          string `db:"term_id" json:"term_id"`
	Capacity        int    `db:"capacity" json:"capacity"`
	CurrentRequests int    `db:"current_requests" json:"current_requests"`
	SeatsRemaining  int    `db:"seats_remaining" json:"seats_remaining"`
	Version         int64  `db:"version" json:"version"`
}
