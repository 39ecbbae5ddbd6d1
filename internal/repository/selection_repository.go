package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

const selectionColumns = `id, user_id, term_id, course_id, preference_rank, status, created_at, updated_at`

// SelectionRepository persists ranked course selections.
type SelectionRepository struct {
	db *sqlx.DB
}

// NewSelectionRepository constructs the repository.
func NewSelectionRepository(db *sqlx.DB) *SelectionRepository {
	return &SelectionRepository{db: db}
}

func (r *SelectionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// LockOwner takes a transaction scoped advisory lock serialising every write
// a user makes within one term. It must run inside a transaction.
func (r *SelectionRepository) LockOwner(ctx context.Context, exec sqlx.ExtContext, userID, termID string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := exec.ExecContext(ctx, query, ownerLockKey(userID, termID)); err != nil {
		return fmt.Errorf("lock selection owner: %w", err)
	}
	return nil
}

func ownerLockKey(userID, termID string) string {
	return "selection:" + userID + ":" + termID
}

// FindSlot returns the selection occupying a rank slot, or nil when the slot is free.
func (r *SelectionRepository) FindSlot(ctx context.Context, exec sqlx.ExtContext, userID, termID string, rank int) (*models.Selection, error) {
	const query = `SELECT ` + selectionColumns + ` FROM selections WHERE user_id = $1 AND term_id = $2 AND preference_rank = $3 FOR UPDATE`
	var selection models.Selection
	if err := sqlx.GetContext(ctx, r.exec(exec), &selection, query, userID, termID, rank); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find selection slot: %w", err)
	}
	return &selection, nil
}

// FindByCourse returns the user's selection of a course in a term, or nil.
func (r *SelectionRepository) FindByCourse(ctx context.Context, exec sqlx.ExtContext, userID, termID, courseID string) (*models.Selection, error) {
	const query = `SELECT ` + selectionColumns + ` FROM selections WHERE user_id = $1 AND term_id = $2 AND course_id = $3 LIMIT 1`
	var selection models.Selection
	if err := sqlx.GetContext(ctx, r.exec(exec), &selection, query, userID, termID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find selection by course: %w", err)
	}
	return &selection, nil
}

// FindOwned loads a selection only when it belongs to the user. Foreign and
// missing rows are indistinguishable and both return nil.
func (r *SelectionRepository) FindOwned(ctx context.Context, exec sqlx.ExtContext, id, userID string, forUpdate bool) (*models.Selection, error) {
	query := `SELECT ` + selectionColumns + ` FROM selections WHERE id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var selection models.Selection
	if err := sqlx.GetContext(ctx, r.exec(exec), &selection, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find owned selection: %w", err)
	}
	return &selection, nil
}

// Upsert writes the selection keyed by (user, term, rank). An existing slot
// has its course reassigned and status reset to pending.
func (r *SelectionRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, selection *models.Selection) error {
	if selection == nil {
		return fmt.Errorf("selection payload is nil")
	}
	if selection.ID == "" {
		selection.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if selection.CreatedAt.IsZero() {
		selection.CreatedAt = now
	}
	selection.UpdatedAt = now
	selection.Status = models.SelectionStatusPending

	const query = `
INSERT INTO selections (id, user_id, term_id, course_id, preference_rank, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, term_id, preference_rank)
DO UPDATE SET course_id = EXCLUDED.course_id, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
RETURNING id, created_at`

	row := r.exec(exec).QueryRowxContext(ctx, query,
		selection.ID,
		selection.UserID,
		selection.TermID,
		selection.CourseID,
		selection.PreferenceRank,
		selection.Status,
		selection.CreatedAt,
		selection.UpdatedAt,
	)
	if err := row.Scan(&selection.ID, &selection.CreatedAt); err != nil {
		return fmt.Errorf("upsert selection: %w", err)
	}
	return nil
}

// Delete removes the user's selection and reports whether a row matched.
func (r *SelectionRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id, userID string) (bool, error) {
	const query = `DELETE FROM selections WHERE id = $1 AND user_id = $2`
	res, err := r.exec(exec).ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete selection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete selection rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListForUpdate locks and returns every selection the user holds in a term.
func (r *SelectionRepository) ListForUpdate(ctx context.Context, exec sqlx.ExtContext, userID, termID string) ([]models.Selection, error) {
	const query = `SELECT ` + selectionColumns + ` FROM selections WHERE user_id = $1 AND term_id = $2 ORDER BY preference_rank ASC FOR UPDATE`
	var selections []models.Selection
	if err := sqlx.SelectContext(ctx, r.exec(exec), &selections, query, userID, termID); err != nil {
		return nil, fmt.Errorf("lock user selections: %w", err)
	}
	return selections, nil
}

// ListByUser returns the user's selections in a term ordered by rank.
func (r *SelectionRepository) ListByUser(ctx context.Context, userID, termID string) ([]models.SelectionDetail, error) {
	const query = `
SELECT s.id, s.user_id, s.term_id, s.course_id, s.preference_rank, s.status, s.created_at, s.updated_at,
	c.code AS course_code, c.name AS course_name, c.section_number, c.course_type, c.schedule, c.instructor
FROM selections s
JOIN courses c ON c.id = s.course_id
WHERE s.user_id = $1 AND s.term_id = $2
ORDER BY s.preference_rank ASC`
	var selections []models.SelectionDetail
	if err := r.db.SelectContext(ctx, &selections, query, userID, termID); err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	return selections, nil
}

// ListByTerm returns every student's choices for a term, grouped by the caller.
func (r *SelectionRepository) ListByTerm(ctx context.Context, termID string) ([]models.StudentSelectionRow, error) {
	const query = `
SELECT u.id AS user_id, u.full_name, u.email,
	s.id AS selection_id, s.preference_rank, s.status,
	c.id AS course_id, c.code AS course_code, c.name AS course_name
FROM selections s
JOIN users u ON u.id = s.user_id
JOIN courses c ON c.id = s.course_id
WHERE s.term_id = $1
ORDER BY u.full_name ASC, u.id ASC, s.preference_rank ASC`
	var rows []models.StudentSelectionRow
	if err := r.db.SelectContext(ctx, &rows, query, termID); err != nil {
		return nil, fmt.Errorf("list term selections: %w", err)
	}
	return rows, nil
}
