package assignment

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/noah-isme/course-select-api/internal/models"
)

// GreedySolver visits students in a shuffled order and places each into the
// best ranked course that still has a seat.
type GreedySolver struct {
	seed int64
	now  func() time.Time
}

// NewGreedySolver builds a solver. A zero seed shuffles differently per run.
func NewGreedySolver(seed int64) *GreedySolver {
	return &GreedySolver{seed: seed, now: time.Now}
}

// RunAssignment implements Gateway.
func (g *GreedySolver) RunAssignment(ctx context.Context, snapshot models.AssignmentSnapshot) ([]models.AssignmentRecord, error) {
	remaining := make(map[string]int, len(snapshot.Courses))
	for _, course := range snapshot.Courses {
		remaining[course.CourseID] = course.Capacity
	}

	byUser := make(map[string][]models.Selection)
	for _, selection := range snapshot.Selections {
		byUser[selection.UserID] = append(byUser[selection.UserID], selection)
	}
	users := make([]string, 0, len(byUser))
	for userID, choices := range byUser {
		sort.Slice(choices, func(i, j int) bool { return choices[i].PreferenceRank < choices[j].PreferenceRank })
		users = append(users, userID)
	}
	sort.Strings(users)

	seed := g.seed
	if seed == 0 {
		seed = g.now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })

	assignedAt := g.now().UTC()
	records := make([]models.AssignmentRecord, 0, len(users))
	for i, userID := range users {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, choice := range byUser[userID] {
			if remaining[choice.CourseID] <= 0 {
				continue
			}
			remaining[choice.CourseID]--
			rank := choice.PreferenceRank
			records = append(records, models.AssignmentRecord{
				UserID:             userID,
				TermID:             snapshot.TermID,
				CourseID:           choice.CourseID,
				AssignedPreference: &rank,
				AssignedAt:         assignedAt,
			})
			break
		}
	}
	return records, nil
}
