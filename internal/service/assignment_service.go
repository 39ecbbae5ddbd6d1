package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/assignment"
	"github.com/noah-isme/course-select-api/internal/dto"
	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type assignmentStore interface {
	Snapshot(ctx context.Context, termID string) (*models.AssignmentSnapshot, error)
	ReplaceForTerm(ctx context.Context, termID string, version int64, records []models.AssignmentRecord) error
	ListByTerm(ctx context.Context, termID string) ([]models.AssignmentDetail, error)
}

type assignmentTermReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

type syncPublisher interface {
	PublishNow(ctx context.Context, events ...models.Event) error
}

type assignmentMetrics interface {
	ObserveAssignmentRun(outcome string, duration time.Duration)
}

type assignmentExporter interface {
	Assignments(termID string, format dto.ExportFormat, items []models.AssignmentDetail) (*dto.ExportFile, error)
}

// AssignmentServiceConfig tunes assignment runs.
type AssignmentServiceConfig struct {
	Timeout time.Duration
	Clock   func() time.Time
}

// AssignmentService runs the term-wide optimisation and publishes its result.
type AssignmentService struct {
	terms     assignmentTermReader
	store     assignmentStore
	gateway   assignment.Gateway
	publisher syncPublisher
	exporter  assignmentExporter
	metrics   assignmentMetrics
	logger    *zap.Logger
	cfg       AssignmentServiceConfig

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

// NewAssignmentService wires the assignment orchestration.
func NewAssignmentService(
	terms assignmentTermReader,
	store assignmentStore,
	gateway assignment.Gateway,
	publisher syncPublisher,
	exporter assignmentExporter,
	metrics assignmentMetrics,
	logger *zap.Logger,
	cfg AssignmentServiceConfig,
) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &AssignmentService{
		terms:     terms,
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		exporter:  exporter,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		running:   make(map[string]*sync.Mutex),
	}
}

// Trigger snapshots the term, runs the gateway and replaces the stored
// assignment set. AssignmentsPublished has been emitted when it returns
// successfully; on any failure the previous set is left untouched. A result
// computed from selections that changed during the run is rejected.
func (s *AssignmentService) Trigger(ctx context.Context, termID string) (*models.AssignmentRun, error) {
	if strings.TrimSpace(termID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	if _, err := s.terms.FindByID(ctx, termID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, storageError(err)
	}

	lock := s.termLock(termID)
	if !lock.TryLock() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "assignment run already in progress for term")
	}
	defer lock.Unlock()

	started := s.cfg.Clock()
	run, err := s.run(ctx, termID)
	elapsed := s.cfg.Clock().Sub(started)
	if err != nil {
		s.observe(outcomeLabel(err), elapsed)
		s.logger.Warn("assignment run failed", zap.String("term_id", termID), zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, err
	}
	s.observe("ok", elapsed)
	s.logger.Info("assignment run published",
		zap.String("term_id", termID),
		zap.Int("records", run.Records),
		zap.Int("assigned", run.Stats.Assigned),
		zap.Int("unassigned", run.Stats.Unassigned),
		zap.Float64("satisfaction", run.Stats.SatisfactionScore),
		zap.Duration("elapsed", elapsed),
	)
	return run, nil
}

func (s *AssignmentService) run(ctx context.Context, termID string) (*models.AssignmentRun, error) {
	snapshot, err := s.store.Snapshot(ctx, termID)
	if err != nil {
		return nil, storageError(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	records, err := s.gateway.RunAssignment(runCtx, *snapshot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAssignmentFailed.Code, appErrors.ErrAssignmentFailed.Status, appErrors.ErrAssignmentFailed.Message)
	}

	stats, err := assignment.Validate(*snapshot, records)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAssignmentReject.Code, appErrors.ErrAssignmentReject.Status, appErrors.ErrAssignmentReject.Message)
	}

	now := s.cfg.Clock()
	for i := range records {
		records[i].TermID = termID
		if records[i].AssignedAt.IsZero() {
			records[i].AssignedAt = now
		}
	}
	if err := s.store.ReplaceForTerm(ctx, termID, snapshot.Version, records); err != nil {
		return nil, storageError(err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishNow(ctx, models.NewAssignmentsPublishedEvent(termID)); err != nil {
			s.logger.Warn("broadcast assignments published", zap.String("term_id", termID), zap.Error(err))
		}
	}

	return &models.AssignmentRun{
		TermID:      termID,
		Records:     len(records),
		Stats:       stats,
		CompletedAt: s.cfg.Clock(),
	}, nil
}

// List returns the current assignment set of a term.
func (s *AssignmentService) List(ctx context.Context, termID string) ([]models.AssignmentDetail, error) {
	if strings.TrimSpace(termID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	items, err := s.store.ListByTerm(ctx, termID)
	if err != nil {
		return nil, storageError(err)
	}
	return items, nil
}

// Export renders the current assignment set as CSV or PDF.
func (s *AssignmentService) Export(ctx context.Context, termID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	if s.exporter == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export not configured")
	}
	items, err := s.List(ctx, termID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Assignments(termID, format, items)
}

func (s *AssignmentService) termLock(termID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.running[termID]
	if !ok {
		lock = &sync.Mutex{}
		s.running[termID] = lock
	}
	return lock
}

func (s *AssignmentService) observe(outcome string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveAssignmentRun(outcome, elapsed)
	}
}
