package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

const termAuditMarkQuery = `SELECT COALESCE(MAX(seq), 0) FROM selection_audit WHERE term_id = $1`

// AssignmentRepository reads assignment inputs and stores run results.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Snapshot reads every selection and course capacity of a term from one
// repeatable-read, read-only transaction. Version is the term's latest audit
// sequence at that point.
func (r *AssignmentRepository) Snapshot(ctx context.Context, termID string) (snapshot *models.AssignmentSnapshot, err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin assignment snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	snapshot = &models.AssignmentSnapshot{TermID: termID, TakenAt: time.Now().UTC()}

	const selectionsQuery = `SELECT ` + selectionColumns + ` FROM selections WHERE term_id = $1 ORDER BY user_id ASC, preference_rank ASC`
	if err = tx.SelectContext(ctx, &snapshot.Selections, selectionsQuery, termID); err != nil {
		return nil, fmt.Errorf("snapshot selections: %w", err)
	}

	const coursesQuery = `SELECT id, capacity FROM courses WHERE term_id = $1 ORDER BY id ASC`
	if err = tx.SelectContext(ctx, &snapshot.Courses, coursesQuery, termID); err != nil {
		return nil, fmt.Errorf("snapshot courses: %w", err)
	}

	if err = tx.GetContext(ctx, &snapshot.Version, termAuditMarkQuery, termID); err != nil {
		return nil, fmt.Errorf("snapshot audit mark: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assignment snapshot: %w", err)
	}
	return snapshot, nil
}

// ReplaceForTerm supersedes the term's assignment set and marks every
// selection assigned or rejected, all in one transaction. The term row is
// locked against selection writers first; when any selection changed after
// the snapshot at version, nothing is written.
func (r *AssignmentRepository) ReplaceForTerm(ctx context.Context, termID string, version int64, records []models.AssignmentRecord) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM terms WHERE id = $1 FOR UPDATE`, termID); err != nil {
		return fmt.Errorf("lock term for assignment: %w", err)
	}
	var current int64
	if err = tx.GetContext(ctx, &current, termAuditMarkQuery, termID); err != nil {
		return fmt.Errorf("read audit mark: %w", err)
	}
	if current != version {
		return appErrors.Clone(appErrors.ErrAssignmentReject, "selections changed while the assignment was running")
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM course_assignments WHERE term_id = $1`, termID); err != nil {
		return fmt.Errorf("clear previous assignments: %w", err)
	}

	const insertQuery = `INSERT INTO course_assignments (user_id, term_id, course_id, assigned_preference, assigned_at) VALUES ($1, $2, $3, $4, $5)`
	for _, record := range records {
		if _, err = tx.ExecContext(ctx, insertQuery, record.UserID, termID, record.CourseID, record.AssignedPreference, record.AssignedAt); err != nil {
			return fmt.Errorf("insert assignment for %s: %w", record.UserID, err)
		}
	}

	const statusQuery = `
UPDATE selections s SET status = CASE
	WHEN EXISTS (
		SELECT 1 FROM course_assignments ca
		WHERE ca.term_id = s.term_id AND ca.user_id = s.user_id AND ca.course_id = s.course_id
	) THEN 'assigned'
	ELSE 'rejected'
END
WHERE s.term_id = $1`
	if _, err = tx.ExecContext(ctx, statusQuery, termID); err != nil {
		return fmt.Errorf("update selection statuses: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment replace: %w", err)
	}
	return nil
}

// ListByTerm returns the current assignment set with labels.
func (r *AssignmentRepository) ListByTerm(ctx context.Context, termID string) ([]models.AssignmentDetail, error) {
	const query = `
SELECT ca.user_id, ca.term_id, ca.course_id, ca.assigned_preference, ca.assigned_at,
	u.full_name, u.email, c.code AS course_code, c.name AS course_name
FROM course_assignments ca
JOIN users u ON u.id = ca.user_id
JOIN courses c ON c.id = ca.course_id
WHERE ca.term_id = $1
ORDER BY u.full_name ASC, ca.user_id ASC`
	var records []models.AssignmentDetail
	if err := r.db.SelectContext(ctx, &records, query, termID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return records, nil
}
