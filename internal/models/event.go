package models

// Event names pushed over the realtime channel.
const (
	EventCapacityChanged      = "CapacityChanged"
	EventAssignmentsPublished = "AssignmentsPublished"
)

// Event is a notification addressed to every subscriber of a term.
type Event struct {
	Name   string      `json:"event"`
	TermID string      `json:"termId"`
	Data   interface{} `json:"data"`
}

// CapacityChanged carries the post-commit seat accounting of one course.
// Version increases with every committed change so clients can drop stale frames.
type CapacityChanged struct {
	CourseID        string `json:"courseId"`
	CurrentRequests int    `json:"currentRequests"`
	SeatsRemaining  int    `json:"seatsRemaining"`
	Version         int64  `json:"version"`
}

// AssignmentsPublished announces that a new assignment set is available.
type AssignmentsPublished struct {
	TermID string `json:"termId"`
}

// NewCapacityChangedEvent builds the event for a snapshot.
func NewCapacityChangedEvent(snapshot CapacitySnapshot) Event {
	return Event{
		Name:   EventCapacityChanged,
		TermID: snapshot.TermID,
		Data: CapacityChanged{
			CourseID:        snapshot.CourseID,
			CurrentRequests: snapshot.CurrentRequests,
			SeatsRemaining:  snapshot.SeatsRemaining,
			Version:         snapshot.Version,
		},
	}
}

// NewAssignmentsPublishedEvent builds the event for a finished run.
func NewAssignmentsPublishedEvent(termID string) Event {
	return Event{
		Name:   EventAssignmentsPublished,
		TermID: termID,
		Data:   AssignmentsPublished{TermID: termID},
	}
}
