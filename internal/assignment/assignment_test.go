package assignment

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/config"
)

func sel(user, course string, rank int) models.Selection {
	return models.Selection{ID: user + "-" + course, UserID: user, TermID: "term-1", CourseID: course, PreferenceRank: rank}
}

func rankPtr(v int) *int { return &v }

func fixtureSnapshot() models.AssignmentSnapshot {
	return models.AssignmentSnapshot{
		TermID: "term-1",
		Selections: []models.Selection{
			sel("alice", "math", 1), sel("alice", "art", 2),
			sel("bob", "math", 1), sel("bob", "art", 2), sel("bob", "music", 3),
			sel("carol", "math", 1), sel("carol", "music", 2),
		},
		Courses: []models.CourseCapacity{
			{CourseID: "math", Capacity: 1},
			{CourseID: "art", Capacity: 1},
			{CourseID: "music", Capacity: 1},
		},
		TakenAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGreedySolverRespectsCapacityAndRanks(t *testing.T) {
	snapshot := fixtureSnapshot()
	records, err := NewGreedySolver(42).RunAssignment(context.Background(), snapshot)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(records), 2)

	stats, err := Validate(snapshot, records)
	require.NoError(t, err)
	assert.Equal(t, len(records), stats.Assigned)
	assert.Equal(t, 3-len(records), stats.Unassigned)
	assert.Equal(t, 1, stats.ByPreference[1])
}

func TestGreedySolverIsDeterministicForSeed(t *testing.T) {
	first, err := NewGreedySolver(7).RunAssignment(context.Background(), fixtureSnapshot())
	require.NoError(t, err)
	second, err := NewGreedySolver(7).RunAssignment(context.Background(), fixtureSnapshot())
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].UserID, second[i].UserID)
		assert.Equal(t, first[i].CourseID, second[i].CourseID)
	}
}

func TestGreedySolverHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGreedySolver(1).RunAssignment(ctx, fixtureSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateRejectsInvalidSets(t *testing.T) {
	snapshot := fixtureSnapshot()
	cases := map[string][]models.AssignmentRecord{
		"unknown student": {{UserID: "mallory", CourseID: "math"}},
		"student twice": {
			{UserID: "alice", CourseID: "math", AssignedPreference: rankPtr(1)},
			{UserID: "alice", CourseID: "art", AssignedPreference: rankPtr(2)},
		},
		"unknown course": {{UserID: "alice", CourseID: "chemistry"}},
		"over capacity": {
			{UserID: "alice", CourseID: "math", AssignedPreference: rankPtr(1)},
			{UserID: "bob", CourseID: "math", AssignedPreference: rankPtr(1)},
		},
		"wrong rank": {{UserID: "alice", CourseID: "art", AssignedPreference: rankPtr(1)}},
		"wrong term": {{UserID: "alice", TermID: "term-2", CourseID: "math"}},
		"not ranked": {{UserID: "carol", CourseID: "art", AssignedPreference: rankPtr(3)}},
	}
	for name, records := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(snapshot, records)
			assert.ErrorIs(t, err, ErrInvalidResult)
		})
	}
}

func TestValidateComputesSatisfaction(t *testing.T) {
	stats, err := Validate(fixtureSnapshot(), []models.AssignmentRecord{
		{UserID: "alice", CourseID: "math", AssignedPreference: rankPtr(1)},
		{UserID: "bob", CourseID: "music", AssignedPreference: rankPtr(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalStudents)
	assert.Equal(t, 2, stats.Assigned)
	assert.Equal(t, 1, stats.Unassigned)
	assert.Equal(t, map[int]int{1: 1, 3: 1}, stats.ByPreference)
	assert.InDelta(t, 4.0/9.0*100, stats.SatisfactionScore, 0.001)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandGatewayParsesOutput(t *testing.T) {
	requireShell(t)
	script := `cat >/dev/null; echo '{"assignments":[{"user_id":"alice","course_id":"math","assigned_preference":1}]}'`
	gateway := NewCommandGateway("sh", []string{"-c", script}, nil)

	records, err := gateway.RunAssignment(context.Background(), fixtureSnapshot())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "term-1", records[0].TermID)
	assert.Equal(t, 1, *records[0].AssignedPreference)
	assert.False(t, records[0].AssignedAt.IsZero())
}

func TestCommandGatewayNonZeroExitFails(t *testing.T) {
	requireShell(t)
	gateway := NewCommandGateway("sh", []string{"-c", "cat >/dev/null; echo boom >&2; exit 3"}, nil)

	_, err := gateway.RunAssignment(context.Background(), fixtureSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run assignment solver")
}

func TestNewSelectsGateway(t *testing.T) {
	gateway, err := New(config.AssignmentConfig{Solver: config.SolverGreedy}, nil)
	require.NoError(t, err)
	assert.IsType(t, &GreedySolver{}, gateway)

	_, err = New(config.AssignmentConfig{Solver: config.SolverCommand}, nil)
	assert.Error(t, err)

	_, err = New(config.AssignmentConfig{Solver: "quantum"}, nil)
	assert.Error(t, err)
}
