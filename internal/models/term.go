package models

import "time"

// Season names the part of the academic year a term covers.
type Season string

const (
	SeasonFall   Season = "FALL"
	SeasonSpring Season = "SPRING"
	SeasonSummer Season = "SUMMER"
)

// SelectionState is the derived phase of a term's selection window.
type SelectionState string

const (
	SelectionNotYetOpen SelectionState = "NOT_YET_OPEN"
	SelectionOpen       SelectionState = "OPEN"
	SelectionClosed     SelectionState = "CLOSED"
)

// Term models a registration period with a selection window.
type Term struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Year              int       `db:"year" json:"year"`
	Season            Season    `db:"season" json:"season"`
	SelectionOpensAt  time.Time `db:"selection_opens_at" json:"selection_opens_at"`
	SelectionClosesAt time.Time `db:"selection_closes_at" json:"selection_closes_at"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// StateAt evaluates the selection window at the given instant. An inactive
// term is always closed.
func (t *Term) StateAt(now time.Time) SelectionState {
	if t == nil || !t.IsActive {
		return SelectionClosed
	}
	if now.Before(t.SelectionOpensAt) {
		return SelectionNotYetOpen
	}
	if !now.Before(t.SelectionClosesAt) {
		return SelectionClosed
	}
	return SelectionOpen
}

// TermView decorates a term with its window state for API responses.
type TermView struct {
	Term
	SelectionState SelectionState `json:"selection_state"`
}

// TermFilter defines filters supported by list endpoints.
type TermFilter struct {
	Year      int
	Season    Season
	IsActive  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
