package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

// CapacityRepository derives seat accounting from selections. It keeps no
// state of its own.
type CapacityRepository struct {
	db *sqlx.DB
}

// NewCapacityRepository constructs the repository.
func NewCapacityRepository(db *sqlx.DB) *CapacityRepository {
	return &CapacityRepository{db: db}
}

// Snapshot computes a course's seat accounting through exec, which must be
// the transaction that performed the write being reported. The version is the
// course's latest audit sequence.
func (r *CapacityRepository) Snapshot(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CapacitySnapshot, error) {
	if exec == nil {
		exec = r.db
	}
	const query = `
WITH requests AS (
	SELECT COUNT(DISTINCT user_id) AS total FROM selections WHERE course_id = $1
)
SELECT c.id AS course_id, c.term_id, c.capacity,
	requests.total AS current_requests,
	GREATEST(c.capacity - requests.total, 0) AS seats_remaining,
	COALESCE((SELECT MAX(a.seq) FROM selection_audit a WHERE a.course_id = c.id), 0) AS version
FROM courses c, requests
WHERE c.id = $1`
	var snapshot models.CapacitySnapshot
	if err := sqlx.GetContext(ctx, exec, &snapshot, query, courseID); err != nil {
		return nil, fmt.Errorf("capacity snapshot: %w", err)
	}
	return &snapshot, nil
}
