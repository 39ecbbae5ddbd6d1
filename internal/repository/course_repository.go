package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-select-api/internal/models"
)

const courseColumns = `id, term_id, code, name, section_number, course_type, capacity, schedule, instructor, room, group_code`

// CourseRepository reads the course catalog and takes seat accounting locks.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// LockForTerm locks the given courses of a term in id order and returns the
// rows that exist. Callers compare the result against the requested ids.
func (r *CourseRepository) LockForTerm(ctx context.Context, exec sqlx.ExtContext, termID string, courseIDs []string) ([]models.Course, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + courseColumns + ` FROM courses WHERE term_id = $1 AND id = ANY($2) ORDER BY id ASC FOR UPDATE`
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, exec, &courses, query, termID, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("lock courses: %w", err)
	}
	return courses, nil
}

// ListAvailability returns the term's courses with live seat counts.
func (r *CourseRepository) ListAvailability(ctx context.Context, termID string, filter models.CourseFilter) ([]models.CourseAvailability, error) {
	query := strings.Builder{}
	query.WriteString(`
SELECT c.id, c.term_id, c.code, c.name, c.section_number, c.course_type, c.capacity,
	c.schedule, c.instructor, c.room, c.group_code,
	COUNT(DISTINCT s.user_id) AS current_requests,
	GREATEST(c.capacity - COUNT(DISTINCT s.user_id), 0) AS seats_remaining
FROM courses c
LEFT JOIN selections s ON s.course_id = c.id
WHERE c.term_id = $1`)

	args := []interface{}{termID}
	if filter.CourseType != "" {
		args = append(args, filter.CourseType)
		fmt.Fprintf(&query, " AND c.course_type = $%d", len(args))
	}
	if filter.GroupCode != "" {
		args = append(args, filter.GroupCode)
		fmt.Fprintf(&query, " AND c.group_code = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		fmt.Fprintf(&query, " AND (LOWER(c.code) LIKE $%d OR LOWER(c.name) LIKE $%d)", len(args), len(args))
	}
	query.WriteString("\nGROUP BY c.id\nORDER BY c.course_type ASC, c.code ASC, c.section_number ASC")

	var courses []models.CourseAvailability
	if err := r.db.SelectContext(ctx, &courses, query.String(), args...); err != nil {
		return nil, fmt.Errorf("list course availability: %w", err)
	}
	return courses, nil
}
