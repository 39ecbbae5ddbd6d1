package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-select-api/internal/models"
)

// AuditRepository appends selection changes to the audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts the entry through the caller's transaction and fills Seq.
func (r *AuditRepository) Append(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is nil")
	}
	if exec == nil {
		exec = r.db
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO selection_audit (user_id, term_id, course_id, action, preference_rank, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING seq`
	if err := exec.QueryRowxContext(ctx, query,
		entry.UserID,
		entry.TermID,
		entry.CourseID,
		entry.Action,
		entry.PreferenceRank,
		entry.CreatedAt,
	).Scan(&entry.Seq); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByUser returns a user's audit trail for a term in sequence order.
func (r *AuditRepository) ListByUser(ctx context.Context, userID, termID string) ([]models.AuditEntry, error) {
	const query = `SELECT seq, user_id, term_id, course_id, action, preference_rank, created_at FROM selection_audit WHERE user_id = $1 AND term_id = $2 ORDER BY seq ASC`
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, userID, termID); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
