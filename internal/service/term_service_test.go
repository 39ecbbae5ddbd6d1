package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type termRepoStub struct {
	terms  []models.Term
	filter models.TermFilter
	reads  int
}

func (s *termRepoStub) List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error) {
	s.filter = filter
	return s.terms, len(s.terms), nil
}

func (s *termRepoStub) FindByID(ctx context.Context, id string) (*models.Term, error) {
	s.reads++
	for i := range s.terms {
		if s.terms[i].ID == id {
			return &s.terms[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *termRepoStub) FindActive(ctx context.Context) (*models.Term, error) {
	s.reads++
	for i := range s.terms {
		if s.terms[i].IsActive {
			return &s.terms[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type availabilityStub struct {
	items  []models.CourseAvailability
	filter models.CourseFilter
}

func (s *availabilityStub) ListAvailability(ctx context.Context, termID string, filter models.CourseFilter) ([]models.CourseAvailability, error) {
	s.filter = filter
	return s.items, nil
}

func termFixture(now time.Time) *termRepoStub {
	return &termRepoStub{terms: []models.Term{
		{ID: "open", IsActive: true, SelectionOpensAt: now.Add(-time.Hour), SelectionClosesAt: now.Add(time.Hour)},
		{ID: "future", IsActive: true, SelectionOpensAt: now.Add(time.Hour), SelectionClosesAt: now.Add(2 * time.Hour)},
		{ID: "past", IsActive: false, SelectionOpensAt: now.Add(-2 * time.Hour), SelectionClosesAt: now.Add(time.Hour)},
	}}
}

func TestTermServiceListDecoratesState(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	repo := termFixture(now)
	svc := NewTermService(repo, nil, func() time.Time { return now })

	views, pagination, err := svc.List(context.Background(), models.TermFilter{})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, models.SelectionOpen, views[0].SelectionState)
	assert.Equal(t, models.SelectionNotYetOpen, views[1].SelectionState)
	assert.Equal(t, models.SelectionClosed, views[2].SelectionState)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, repo.filter.PageSize)
}

func TestTermServiceGetAndActive(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	svc := NewTermService(termFixture(now), nil, func() time.Time { return now })

	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	active, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open", active.ID)
}

type memoryCache struct {
	entries map[string][]byte
	failGet bool
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.failGet {
		return errors.New("connection refused")
	}
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

type cacheMetricsStub struct {
	hits, misses, writes int
}

func (m *cacheMetricsStub) RecordCacheOperation(hit bool, duration time.Duration) {
	if hit {
		m.hits++
		return
	}
	m.misses++
}

func (m *cacheMetricsStub) ObserveCacheWrite(duration time.Duration) { m.writes++ }

func TestTermServiceReadsThroughCache(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	repo := termFixture(now)
	backend := &memoryCache{entries: map[string][]byte{}}
	metrics := &cacheMetricsStub{}
	svc := NewTermService(repo, NewCacheService(backend, metrics, time.Minute, nil), func() time.Time { return clock })

	first, err := svc.Get(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, models.SelectionOpen, first.SelectionState)

	clock = now.Add(2 * time.Hour)
	second, err := svc.Get(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.reads)
	assert.Equal(t, models.SelectionClosed, second.SelectionState)

	_, err = svc.Active(context.Background())
	require.NoError(t, err)
	_, err = svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.reads)
	assert.Equal(t, cacheMetricsStub{hits: 2, misses: 2, writes: 2}, *metrics)

	_, err = svc.Get(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NotContains(t, backend.entries, "term:missing")
}

func TestTermServiceFallsBackWhenCacheFails(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	repo := termFixture(now)
	svc := NewTermService(repo, NewCacheService(&memoryCache{entries: map[string][]byte{}, failGet: true}, nil, 0, nil), func() time.Time { return now })

	for i := 0; i < 2; i++ {
		view, err := svc.Get(context.Background(), "future")
		require.NoError(t, err)
		assert.Equal(t, models.SelectionNotYetOpen, view.SelectionState)
	}
	assert.Equal(t, 2, repo.reads)
}

func TestCourseServiceAvailability(t *testing.T) {
	now := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	terms := NewTermService(termFixture(now), nil, func() time.Time { return now })
	courses := &availabilityStub{items: []models.CourseAvailability{{Course: models.Course{ID: "c1"}, SeatsRemaining: 3}}}
	svc := NewCourseService(terms, courses)

	items, err := svc.Availability(context.Background(), "open", models.CourseFilter{Search: "  math "})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "math", courses.filter.Search)

	_, err = svc.Availability(context.Background(), "missing", models.CourseFilter{})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Availability(context.Background(), " ", models.CourseFilter{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
