package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/dto"
	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type selectionStore interface {
	LockOwner(ctx context.Context, exec sqlx.ExtContext, userID, termID string) error
	FindSlot(ctx context.Context, exec sqlx.ExtContext, userID, termID string, rank int) (*models.Selection, error)
	FindByCourse(ctx context.Context, exec sqlx.ExtContext, userID, termID, courseID string) (*models.Selection, error)
	FindOwned(ctx context.Context, exec sqlx.ExtContext, id, userID string, forUpdate bool) (*models.Selection, error)
	Upsert(ctx context.Context, exec sqlx.ExtContext, selection *models.Selection) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id, userID string) (bool, error)
	ListForUpdate(ctx context.Context, exec sqlx.ExtContext, userID, termID string) ([]models.Selection, error)
	ListByUser(ctx context.Context, userID, termID string) ([]models.SelectionDetail, error)
	ListByTerm(ctx context.Context, termID string) ([]models.StudentSelectionRow, error)
}

type selectionTermReader interface {
	FindForSelection(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Term, error)
}

type courseLocker interface {
	LockForTerm(ctx context.Context, exec sqlx.ExtContext, termID string, courseIDs []string) ([]models.Course, error)
}

type capacityReader interface {
	Snapshot(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CapacitySnapshot, error)
}

type auditAppender interface {
	Append(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditEntry) error
	ListByUser(ctx context.Context, userID, termID string) ([]models.AuditEntry, error)
}

type eventPublisher interface {
	Publish(events ...models.Event)
}

type selectionMetrics interface {
	ObserveSelection(operation, outcome string)
	ObserveTxRetry(operation string)
}

type noopSelectionMetrics struct{}

func (noopSelectionMetrics) ObserveSelection(string, string) {}
func (noopSelectionMetrics) ObserveTxRetry(string)          {}

// Selection operation labels used in logs and metrics.
const (
	opSubmit = "submit"
	opRemove = "remove"
	opClear  = "clear"
)

// SelectionServiceConfig tunes selection behaviour.
type SelectionServiceConfig struct {
	MaxRank   int
	TxRetries int
	Clock     func() time.Time
}

// SelectionService records ranked course choices and keeps seat accounting
// consistent under concurrent writers.
type SelectionService struct {
	selections selectionStore
	terms      selectionTermReader
	courses    courseLocker
	capacity   capacityReader
	audit      auditAppender
	publisher  eventPublisher
	metrics    selectionMetrics
	tx         txProvider
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        SelectionServiceConfig
}

// NewSelectionService wires the selection engine.
func NewSelectionService(
	selections selectionStore,
	terms selectionTermReader,
	courses courseLocker,
	capacity capacityReader,
	audit auditAppender,
	publisher eventPublisher,
	metrics selectionMetrics,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg SelectionServiceConfig,
) *SelectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopSelectionMetrics{}
	}
	if cfg.MaxRank <= 0 {
		cfg.MaxRank = 3
	}
	if cfg.TxRetries < 0 {
		cfg.TxRetries = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &SelectionService{
		selections: selections,
		terms:      terms,
		courses:    courses,
		capacity:   capacity,
		audit:      audit,
		publisher:  publisher,
		metrics:    metrics,
		tx:         tx,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
}

// Submit records a course choice for a rank slot. Re-submitting the course a
// slot already holds changes nothing; a different course replaces the slot's
// previous choice in the same commit.
func (s *SelectionService) Submit(ctx context.Context, userID string, req dto.SubmitSelectionRequest) (*models.Selection, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.ObserveSelection(opSubmit, outcomeLabel(appErrors.ErrValidation))
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid selection payload")
	}
	if req.PreferenceRank > s.cfg.MaxRank {
		s.metrics.ObserveSelection(opSubmit, outcomeLabel(appErrors.ErrValidation))
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("preferenceRank must be between 1 and %d", s.cfg.MaxRank))
	}

	var (
		result    *models.Selection
		snapshots []models.CapacitySnapshot
		unchanged bool
	)
	err := s.runInTx(ctx, opSubmit, func(tx *sqlx.Tx) error {
		result, snapshots, unchanged = nil, nil, false

		if err := s.selections.LockOwner(ctx, tx, userID, req.TermID); err != nil {
			return err
		}
		if err := s.ensureOpen(ctx, tx, req.TermID); err != nil {
			return err
		}

		existing, err := s.selections.FindSlot(ctx, tx, userID, req.TermID, req.PreferenceRank)
		if err != nil {
			return err
		}
		if existing != nil && existing.CourseID == req.CourseID {
			result = existing
			unchanged = true
			return nil
		}

		held, err := s.selections.FindByCourse(ctx, tx, userID, req.TermID, req.CourseID)
		if err != nil {
			return err
		}
		if held != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course already selected at rank %d", held.PreferenceRank))
		}

		lockIDs := []string{req.CourseID}
		if existing != nil {
			lockIDs = append(lockIDs, existing.CourseID)
		}
		locked, err := s.courses.LockForTerm(ctx, tx, req.TermID, lockIDs)
		if err != nil {
			return err
		}
		target := findCourse(locked, req.CourseID)
		if target == nil {
			return appErrors.Clone(appErrors.ErrCourseNotFound, "course not found in term")
		}

		before, err := s.capacity.Snapshot(ctx, tx, req.CourseID)
		if err != nil {
			return err
		}
		if before.SeatsRemaining <= 0 {
			return appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("no seats remaining in %s", target.Code))
		}

		selection := &models.Selection{
			UserID:         userID,
			TermID:         req.TermID,
			CourseID:       req.CourseID,
			PreferenceRank: req.PreferenceRank,
		}
		if existing != nil {
			selection.ID = existing.ID
			selection.CreatedAt = existing.CreatedAt
		}
		if err := s.selections.Upsert(ctx, tx, selection); err != nil {
			return err
		}

		affected := []string{req.CourseID}
		if existing != nil {
			if err := s.appendAudit(ctx, tx, userID, req.TermID, existing.CourseID, models.AuditActionDeselected, existing.PreferenceRank); err != nil {
				return err
			}
			affected = append(affected, existing.CourseID)
		}
		if err := s.appendAudit(ctx, tx, userID, req.TermID, req.CourseID, models.AuditActionSelected, req.PreferenceRank); err != nil {
			return err
		}

		snapshots, err = s.snapshots(ctx, tx, affected)
		if err != nil {
			return err
		}
		result = selection
		return nil
	})
	if err != nil {
		s.metrics.ObserveSelection(opSubmit, outcomeLabel(err))
		return nil, err
	}

	if unchanged {
		s.metrics.ObserveSelection(opSubmit, "unchanged")
		return result, nil
	}
	s.metrics.ObserveSelection(opSubmit, "ok")
	s.publish(snapshots)
	s.logger.Info("selection recorded",
		zap.String("user_id", userID),
		zap.String("term_id", req.TermID),
		zap.String("course_id", req.CourseID),
		zap.Int("preference_rank", req.PreferenceRank),
	)
	return result, nil
}

// Remove deletes one of the caller's selections. Foreign and missing ids are
// both reported as not found.
func (s *SelectionService) Remove(ctx context.Context, userID, selectionID string) error {
	if strings.TrimSpace(selectionID) == "" {
		s.metrics.ObserveSelection(opRemove, outcomeLabel(appErrors.ErrValidation))
		return appErrors.Clone(appErrors.ErrValidation, "selection id is required")
	}

	current, err := s.selections.FindOwned(ctx, nil, selectionID, userID, false)
	if err != nil {
		err = storageError(err)
		s.metrics.ObserveSelection(opRemove, outcomeLabel(err))
		return err
	}
	if current == nil {
		s.metrics.ObserveSelection(opRemove, outcomeLabel(appErrors.ErrNotFound))
		return appErrors.Clone(appErrors.ErrNotFound, "selection not found")
	}

	var snapshots []models.CapacitySnapshot
	err = s.runInTx(ctx, opRemove, func(tx *sqlx.Tx) error {
		snapshots = nil

		if err := s.selections.LockOwner(ctx, tx, userID, current.TermID); err != nil {
			return err
		}
		// Term share lock before any selection row lock, matching assignment ingestion.
		if err := s.ensureOpen(ctx, tx, current.TermID); err != nil {
			return err
		}
		selection, err := s.selections.FindOwned(ctx, tx, selectionID, userID, true)
		if err != nil {
			return err
		}
		if selection == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "selection not found")
		}
		if _, err := s.courses.LockForTerm(ctx, tx, selection.TermID, []string{selection.CourseID}); err != nil {
			return err
		}

		deleted, err := s.selections.Delete(ctx, tx, selection.ID, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return appErrors.Clone(appErrors.ErrNotFound, "selection not found")
		}
		if err := s.appendAudit(ctx, tx, userID, selection.TermID, selection.CourseID, models.AuditActionDeselected, selection.PreferenceRank); err != nil {
			return err
		}

		snapshots, err = s.snapshots(ctx, tx, []string{selection.CourseID})
		return err
	})
	if err != nil {
		s.metrics.ObserveSelection(opRemove, outcomeLabel(err))
		return err
	}

	s.metrics.ObserveSelection(opRemove, "ok")
	s.publish(snapshots)
	s.logger.Info("selection removed",
		zap.String("user_id", userID),
		zap.String("selection_id", selectionID),
		zap.String("course_id", current.CourseID),
	)
	return nil
}

// Clear removes every selection the caller holds in a term and returns how
// many were removed.
func (s *SelectionService) Clear(ctx context.Context, userID, termID string) (int, error) {
	if strings.TrimSpace(termID) == "" {
		s.metrics.ObserveSelection(opClear, outcomeLabel(appErrors.ErrValidation))
		return 0, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}

	var (
		removed   int
		snapshots []models.CapacitySnapshot
	)
	err := s.runInTx(ctx, opClear, func(tx *sqlx.Tx) error {
		removed, snapshots = 0, nil

		if err := s.selections.LockOwner(ctx, tx, userID, termID); err != nil {
			return err
		}
		if err := s.ensureOpen(ctx, tx, termID); err != nil {
			return err
		}
		held, err := s.selections.ListForUpdate(ctx, tx, userID, termID)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return nil
		}

		courseIDs := make([]string, 0, len(held))
		for _, selection := range held {
			courseIDs = append(courseIDs, selection.CourseID)
		}
		if _, err := s.courses.LockForTerm(ctx, tx, termID, courseIDs); err != nil {
			return err
		}

		for _, selection := range held {
			deleted, err := s.selections.Delete(ctx, tx, selection.ID, userID)
			if err != nil {
				return err
			}
			if !deleted {
				continue
			}
			if err := s.appendAudit(ctx, tx, userID, termID, selection.CourseID, models.AuditActionDeselected, selection.PreferenceRank); err != nil {
				return err
			}
			removed++
		}

		snapshots, err = s.snapshots(ctx, tx, courseIDs)
		return err
	})
	if err != nil {
		s.metrics.ObserveSelection(opClear, outcomeLabel(err))
		return 0, err
	}

	if removed == 0 {
		s.metrics.ObserveSelection(opClear, "unchanged")
		return 0, nil
	}
	s.metrics.ObserveSelection(opClear, "ok")
	s.publish(snapshots)
	s.logger.Info("selections cleared",
		zap.String("user_id", userID),
		zap.String("term_id", termID),
		zap.Int("removed", removed),
	)
	return removed, nil
}

// List returns the caller's selections for a term ordered by rank.
func (s *SelectionService) List(ctx context.Context, userID, termID string) ([]models.SelectionDetail, error) {
	if strings.TrimSpace(termID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	items, err := s.selections.ListByUser(ctx, userID, termID)
	if err != nil {
		return nil, storageError(err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PreferenceRank < items[j].PreferenceRank
	})
	return items, nil
}

// ListForTerm groups every student's ranked choices for administrators.
func (s *SelectionService) ListForTerm(ctx context.Context, termID string) ([]models.StudentSelections, error) {
	if strings.TrimSpace(termID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	rows, err := s.selections.ListByTerm(ctx, termID)
	if err != nil {
		return nil, storageError(err)
	}

	grouped := make([]models.StudentSelections, 0)
	index := make(map[string]int)
	for _, row := range rows {
		pos, ok := index[row.UserID]
		if !ok {
			grouped = append(grouped, models.StudentSelections{
				UserID:     row.UserID,
				FullName:   row.FullName,
				Email:      row.Email,
				Selections: []models.StudentSelectionChoice{},
			})
			pos = len(grouped) - 1
			index[row.UserID] = pos
		}
		grouped[pos].Selections = append(grouped[pos].Selections, models.StudentSelectionChoice{
			SelectionID:    row.SelectionID,
			PreferenceRank: row.PreferenceRank,
			Status:         row.Status,
			CourseID:       row.CourseID,
			CourseCode:     row.CourseCode,
			CourseName:     row.CourseName,
		})
	}
	return grouped, nil
}

// AuditTrail returns a user's selection history for a term in commit order.
func (s *SelectionService) AuditTrail(ctx context.Context, userID, termID string) ([]models.AuditEntry, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(termID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user id and term id are required")
	}
	entries, err := s.audit.ListByUser(ctx, userID, termID)
	if err != nil {
		return nil, storageError(err)
	}
	return entries, nil
}

func (s *SelectionService) ensureOpen(ctx context.Context, exec sqlx.ExtContext, termID string) error {
	term, err := s.terms.FindForSelection(ctx, exec, termID)
	if err != nil {
		return err
	}
	if term == nil {
		return appErrors.Clone(appErrors.ErrTermNotOpen, "term not found or not accepting selections")
	}
	switch term.StateAt(s.cfg.Clock()) {
	case models.SelectionOpen:
		return nil
	case models.SelectionNotYetOpen:
		return appErrors.Clone(appErrors.ErrTermNotOpen, "selection window has not opened yet")
	default:
		return appErrors.Clone(appErrors.ErrTermNotOpen, "selection window is closed")
	}
}

func (s *SelectionService) appendAudit(ctx context.Context, exec sqlx.ExtContext, userID, termID, courseID string, action models.AuditAction, rank int) error {
	entry := &models.AuditEntry{
		UserID:         userID,
		TermID:         termID,
		CourseID:       courseID,
		Action:         action,
		PreferenceRank: rank,
	}
	if err := s.audit.Append(ctx, exec, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// snapshots reads the post-write accounting of each distinct course through
// the writing transaction.
func (s *SelectionService) snapshots(ctx context.Context, exec sqlx.ExtContext, courseIDs []string) ([]models.CapacitySnapshot, error) {
	seen := make(map[string]struct{}, len(courseIDs))
	result := make([]models.CapacitySnapshot, 0, len(courseIDs))
	for _, id := range courseIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		snapshot, err := s.capacity.Snapshot(ctx, exec, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *snapshot)
	}
	return result, nil
}

// publish hands committed snapshots to the broadcaster as one batch.
func (s *SelectionService) publish(snapshots []models.CapacitySnapshot) {
	if s.publisher == nil || len(snapshots) == 0 {
		return
	}
	events := make([]models.Event, 0, len(snapshots))
	for _, snapshot := range snapshots {
		events = append(events, models.NewCapacityChangedEvent(snapshot))
	}
	s.publisher.Publish(events...)
}

// runInTx executes fn in a transaction, retrying serialization failures and
// deadlocks. Business errors are returned untouched; anything else becomes a
// storage failure.
func (s *SelectionService) runInTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider not configured")
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = s.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= s.cfg.TxRetries || ctx.Err() != nil {
			break
		}
		s.metrics.ObserveTxRetry(op)
		s.logger.Debug("retrying selection transaction", zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error("selection transaction failed", zap.String("operation", op), zap.Error(err))
	return storageError(err)
}

func (s *SelectionService) attempt(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

func storageError(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, appErrors.ErrStorage.Message)
}

func outcomeLabel(err error) string {
	return strings.ToLower(appErrors.FromError(err).Code)
}

func findCourse(courses []models.Course, id string) *models.Course {
	for i := range courses {
		if courses[i].ID == id {
			return &courses[i]
		}
	}
	return nil
}
