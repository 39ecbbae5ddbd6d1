package assignment

import (
	"errors"
	"fmt"

	"github.com/noah-isme/course-select-api/internal/models"
)

// ErrInvalidResult marks an assignment set that cannot be applied as a whole.
var ErrInvalidResult = errors.New("invalid assignment result")

// Validate checks records against the snapshot they were computed from and
// returns statistics for an acceptable set. Any violation rejects every record.
func Validate(snapshot models.AssignmentSnapshot, records []models.AssignmentRecord) (models.AssignmentStats, error) {
	capacity := make(map[string]int, len(snapshot.Courses))
	for _, course := range snapshot.Courses {
		capacity[course.CourseID] = course.Capacity
	}

	ranks := make(map[string]map[string]int)
	maxRank := 0
	for _, selection := range snapshot.Selections {
		if ranks[selection.UserID] == nil {
			ranks[selection.UserID] = make(map[string]int)
		}
		ranks[selection.UserID][selection.CourseID] = selection.PreferenceRank
		if selection.PreferenceRank > maxRank {
			maxRank = selection.PreferenceRank
		}
	}

	stats := models.AssignmentStats{
		TotalStudents: len(ranks),
		ByPreference:  make(map[int]int),
	}
	seen := make(map[string]struct{}, len(records))
	used := make(map[string]int)
	score := 0

	for _, record := range records {
		if record.TermID != "" && record.TermID != snapshot.TermID {
			return models.AssignmentStats{}, fmt.Errorf("%w: record for %s belongs to term %s", ErrInvalidResult, record.UserID, record.TermID)
		}
		choices, known := ranks[record.UserID]
		if !known {
			return models.AssignmentStats{}, fmt.Errorf("%w: unknown student %s", ErrInvalidResult, record.UserID)
		}
		if _, dup := seen[record.UserID]; dup {
			return models.AssignmentStats{}, fmt.Errorf("%w: student %s assigned twice", ErrInvalidResult, record.UserID)
		}
		seen[record.UserID] = struct{}{}

		limit, ok := capacity[record.CourseID]
		if !ok {
			return models.AssignmentStats{}, fmt.Errorf("%w: unknown course %s", ErrInvalidResult, record.CourseID)
		}
		used[record.CourseID]++
		if used[record.CourseID] > limit {
			return models.AssignmentStats{}, fmt.Errorf("%w: course %s over capacity", ErrInvalidResult, record.CourseID)
		}

		if record.AssignedPreference != nil {
			rank, selected := choices[record.CourseID]
			if !selected || rank != *record.AssignedPreference {
				return models.AssignmentStats{}, fmt.Errorf("%w: student %s was not ranked %d for course %s", ErrInvalidResult, record.UserID, *record.AssignedPreference, record.CourseID)
			}
			stats.ByPreference[rank]++
			score += maxRank - rank + 1
		}
	}

	stats.Assigned = len(records)
	stats.Unassigned = stats.TotalStudents - stats.Assigned
	if stats.TotalStudents > 0 && maxRank > 0 {
		stats.SatisfactionScore = float64(score) / float64(stats.TotalStudents*maxRank) * 100
	}
	return stats, nil
}
