package service

import (
	"context"
	"strings"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type courseAvailabilityReader interface {
	ListAvailability(ctx context.Context, termID string, filter models.CourseFilter) ([]models.CourseAvailability, error)
}

// CourseService serves the full-state availability view clients re-fetch on
// reconnect.
type CourseService struct {
	terms   *TermService
	courses courseAvailabilityReader
}

// NewCourseService constructs a CourseService.
func NewCourseService(terms *TermService, courses courseAvailabilityReader) *CourseService {
	return &CourseService{terms: terms, courses: courses}
}

// Availability lists a term's courses with live seat counts.
func (s *CourseService) Availability(ctx context.Context, termID string, filter models.CourseFilter) ([]models.CourseAvailability, error) {
	if strings.TrimSpace(termID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	if s.terms != nil {
		if _, err := s.terms.Get(ctx, termID); err != nil {
			return nil, err
		}
	}
	filter.Search = strings.TrimSpace(filter.Search)
	items, err := s.courses.ListAvailability(ctx, termID, filter)
	if err != nil {
		return nil, storageError(err)
	}
	return items, nil
}
