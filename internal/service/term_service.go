package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.Term, int, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
}

const activeTermCacheKey = "term:active"

// TermService exposes registration terms with their selection window state.
// Single-term lookups are served through the cache when one is configured;
// the state is always derived from the clock at read time.
type TermService struct {
	repo  termRepository
	cache *CacheService
	clock func() time.Time
}

// NewTermService constructs a TermService. cache may be nil.
func NewTermService(repo termRepository, cache *CacheService, clock func() time.Time) *TermService {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &TermService{repo: repo, cache: cache, clock: clock}
}

// List returns terms with pagination metadata.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.TermView, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	now := s.clock()
	views := make([]models.TermView, 0, len(terms))
	for i := range terms {
		views = append(views, models.TermView{Term: terms[i], SelectionState: terms[i].StateAt(now)})
	}
	return views, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a term by id.
func (s *TermService) Get(ctx context.Context, id string) (*models.TermView, error) {
	key := "term:" + id
	var cached models.Term
	if s.cache.Get(ctx, key, &cached) {
		return s.view(cached), nil
	}

	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	s.cache.Set(ctx, key, term, 0)
	return s.view(*term), nil
}

// Active returns the most recently opened active term.
func (s *TermService) Active(ctx context.Context) (*models.TermView, error) {
	var cached models.Term
	if s.cache.Get(ctx, activeTermCacheKey, &cached) {
		return s.view(cached), nil
	}

	term, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}
	s.cache.Set(ctx, activeTermCacheKey, term, 0)
	return s.view(*term), nil
}

func (s *TermService) view(term models.Term) *models.TermView {
	return &models.TermView{Term: term, SelectionState: term.StateAt(s.clock())}
}
