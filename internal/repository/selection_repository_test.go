package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
	}
	return sqlxDB, mock, cleanup
}

var selectionRowColumns = []string{"id", "user_id", "term_id", "course_id", "preference_rank", "status", "created_at", "updated_at"}

func TestSelectionRepositoryLockOwnerUsesAdvisoryLock(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("selection:user-1:term-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.LockOwner(context.Background(), tx, "user-1", "term-1"))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRepositoryFindSlot(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM selections WHERE user_id = $1 AND term_id = $2 AND preference_rank = $3 FOR UPDATE`)).
		WithArgs("user-1", "term-1", 1).
		WillReturnRows(sqlmock.NewRows(selectionRowColumns).
			AddRow("sel-1", "user-1", "term-1", "course-1", 1, "pending", now, now))

	selection, err := repo.FindSlot(context.Background(), nil, "user-1", "term-1", 1)
	require.NoError(t, err)
	require.NotNil(t, selection)
	assert.Equal(t, "course-1", selection.CourseID)
	assert.Equal(t, models.SelectionStatusPending, selection.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRepositoryFindSlotEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM selections WHERE user_id = $1`)).
		WithArgs("user-1", "term-1", 2).
		WillReturnError(sql.ErrNoRows)

	selection, err := repo.FindSlot(context.Background(), nil, "user-1", "term-1", 2)
	require.NoError(t, err)
	assert.Nil(t, selection)
}

func TestSelectionRepositoryFindOwnedHidesForeignRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM selections WHERE id = $1 AND user_id = $2 FOR UPDATE`)).
		WithArgs("sel-1", "intruder").
		WillReturnError(sql.ErrNoRows)

	selection, err := repo.FindOwned(context.Background(), nil, "sel-1", "intruder", true)
	require.NoError(t, err)
	assert.Nil(t, selection)
}

func TestSelectionRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)
	created := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (user_id, term_id, preference_rank)`)).
		WithArgs(sqlmock.AnyArg(), "user-1", "term-1", "course-2", 1, "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("sel-existing", created))

	selection := &models.Selection{UserID: "user-1", TermID: "term-1", CourseID: "course-2", PreferenceRank: 1}
	require.NoError(t, repo.Upsert(context.Background(), nil, selection))
	assert.Equal(t, "sel-existing", selection.ID)
	assert.Equal(t, created, selection.CreatedAt)
	assert.False(t, selection.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectionRepositoryUpsertError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO selections`)).WillReturnError(errors.New("boom"))

	err := repo.Upsert(context.Background(), nil, &models.Selection{UserID: "u", TermID: "t", CourseID: "c", PreferenceRank: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert selection")
}

func TestSelectionRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM selections WHERE id = $1 AND user_id = $2`)).
		WithArgs("sel-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM selections WHERE id = $1 AND user_id = $2`)).
		WithArgs("sel-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), nil, "sel-1", "user-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(context.Background(), nil, "sel-1", "user-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSelectionRepositoryListByUserOrdersByRank(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSelectionRepository(db)
	now := time.Now().UTC()

	columns := append(append([]string{}, selectionRowColumns...), "course_code", "course_name", "section_number", "course_type", "schedule", "instructor")
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY s.preference_rank ASC`)).
		WithArgs("user-1", "term-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("sel-1", "user-1", "term-1", "course-1", 1, "pending", now, now, "CS101", "Intro", "01", "CORE", nil, nil).
			AddRow("sel-2", "user-1", "term-1", "course-2", 2, "pending", now, now, "CS102", "Data", "02", "CORE", "Mon 08:00", "Dr. Ruiz"))

	items, err := repo.ListByUser(context.Background(), "user-1", "term-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].PreferenceRank)
	assert.Equal(t, "CS102", items[1].CourseCode)
	require.NotNil(t, items[1].Instructor)
	assert.Equal(t, "Dr. Ruiz", *items[1].Instructor)
}
