package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
)

func TestAuditRepositoryAppendFillsSequence(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO selection_audit (user_id, term_id, course_id, action, preference_rank, created_at)`)).
		WithArgs("user-1", "term-1", "course-1", "selected", 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	entry := &models.AuditEntry{UserID: "user-1", TermID: "term-1", CourseID: "course-1", Action: models.AuditActionSelected, PreferenceRank: 2}
	require.NoError(t, repo.Append(context.Background(), tx, entry))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(42), entry.Seq)
	assert.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAppendRejectsNil(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()
	assert.Error(t, NewAuditRepository(db).Append(context.Background(), nil, nil))
}

func TestAuditRepositoryAppendPropagatesFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO selection_audit`)).WillReturnError(errors.New("disk full"))

	err := repo.Append(context.Background(), nil, &models.AuditEntry{UserID: "u", TermID: "t", CourseID: "c", Action: models.AuditActionDeselected, PreferenceRank: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListByUserOrdersBySequence(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM selection_audit WHERE user_id = $1 AND term_id = $2 ORDER BY seq ASC`)).
		WithArgs("user-1", "term-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "user_id", "term_id", "course_id", "action", "preference_rank", "created_at"}).
			AddRow(int64(1), "user-1", "term-1", "course-1", "selected", 1, now).
			AddRow(int64(3), "user-1", "term-1", "course-1", "deselected", 1, now))

	entries, err := repo.ListByUser(context.Background(), "user-1", "term-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditActionDeselected, entries[1].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}
