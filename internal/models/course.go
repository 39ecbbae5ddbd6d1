package models

// Course is a capacity-limited section offered in a term. The catalog is
// maintained elsewhere; this service only reads it.
type Course struct {
	ID            string  `db:"id" json:"id"`
	TermID        string  `db:"term_id" json:"term_id"`
	Code          string  `db:"code" json:"code"`
	Name          string  `db:"name" json:"name"`
	SectionNumber string  `db:"section_number" json:"section_number"`
	CourseType    string  `db:"course_type" json:"course_type"`
	Capacity      int     `db:"capacity" json:"capacity"`
	Schedule      *string `db:"schedule" json:"schedule,omitempty"`
	Instructor    *string `db:"instructor" json:"instructor,omitempty"`
	Room          *string `db:"room" json:"room,omitempty"`
	GroupCode     *string `db:"group_code" json:"group_code,omitempty"`
}

// CourseAvailability is a course together with its live seat counts.
type CourseAvailability struct {
	Course
	CurrentRequests int `db:"current_requests" json:"current_requests"`
	SeatsRemaining  int `db:"seats_remaining" json:"seats_remaining"`
}

// CourseFilter narrows availability listings.
type CourseFilter struct {
	CourseType string
	GroupCode  string
	Search     string
}
