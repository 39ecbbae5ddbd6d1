package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/dto"
	"github.com/noah-isme/course-select-api/internal/models"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
)

type assignmentStoreStub struct {
	snapshot   *models.AssignmentSnapshot
	version    int64
	replaced   []models.AssignmentRecord
	replaceErr error
	details    []models.AssignmentDetail
	replaces   int
}

func (s *assignmentStoreStub) Snapshot(ctx context.Context, termID string) (*models.AssignmentSnapshot, error) {
	return s.snapshot, nil
}

func (s *assignmentStoreStub) ReplaceForTerm(ctx context.Context, termID string, version int64, records []models.AssignmentRecord) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	if version != s.version {
		return appErrors.Clone(appErrors.ErrAssignmentReject, "selections changed while the assignment was running")
	}
	s.replaces++
	s.replaced = records
	return nil
}

func (s *assignmentStoreStub) ListByTerm(ctx context.Context, termID string) ([]models.AssignmentDetail, error) {
	return s.details, nil
}

type assignmentTermStub struct{}

func (assignmentTermStub) FindByID(ctx context.Context, id string) (*models.Term, error) {
	if id != "term-1" {
		return nil, sql.ErrNoRows
	}
	return &models.Term{ID: id}, nil
}

type gatewayStub struct {
	records []models.AssignmentRecord
	err     error
	block   chan struct{}
	started chan struct{}
	during  func()
}

func (g *gatewayStub) RunAssignment(ctx context.Context, snapshot models.AssignmentSnapshot) ([]models.AssignmentRecord, error) {
	if g.started != nil {
		close(g.started)
	}
	if g.during != nil {
		g.during()
	}
	if g.block != nil {
		<-g.block
	}
	return g.records, g.err
}

type syncPublisherStub struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (p *syncPublisherStub) PublishNow(ctx context.Context, events ...models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

type assignmentMetricsStub struct {
	outcomes []string
}

func (m *assignmentMetricsStub) ObserveAssignmentRun(outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}

func assignmentSnapshotFixture() *models.AssignmentSnapshot {
	return &models.AssignmentSnapshot{
		TermID: "term-1",
		Selections: []models.Selection{
			{UserID: "u1", CourseID: "c1", PreferenceRank: 1},
			{UserID: "u2", CourseID: "c1", PreferenceRank: 1},
			{UserID: "u2", CourseID: "c2", PreferenceRank: 2},
		},
		Courses: []models.CourseCapacity{{CourseID: "c1", Capacity: 1}, {CourseID: "c2", Capacity: 1}},
		Version: 9,
	}
}

func intPtr(v int) *int { return &v }

func newAssignmentFixture(gateway *gatewayStub) (*AssignmentService, *assignmentStoreStub, *syncPublisherStub, *assignmentMetricsStub) {
	store := &assignmentStoreStub{snapshot: assignmentSnapshotFixture(), version: 9}
	publisher := &syncPublisherStub{}
	metrics := &assignmentMetricsStub{}
	svc := NewAssignmentService(assignmentTermStub{}, store, gateway, publisher, NewExportService(nil, nil, nil), metrics, nil, AssignmentServiceConfig{Timeout: time.Second})
	return svc, store, publisher, metrics
}

func TestAssignmentServiceTriggerPublishesAfterReplace(t *testing.T) {
	gateway := &gatewayStub{records: []models.AssignmentRecord{
		{UserID: "u1", CourseID: "c1", AssignedPreference: intPtr(1)},
		{UserID: "u2", CourseID: "c2", AssignedPreference: intPtr(2)},
	}}
	svc, store, publisher, metrics := newAssignmentFixture(gateway)

	run, err := svc.Trigger(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Records)
	assert.Equal(t, 2, run.Stats.Assigned)
	assert.Equal(t, 1, store.replaces)
	for _, record := range store.replaced {
		assert.Equal(t, "term-1", record.TermID)
		assert.False(t, record.AssignedAt.IsZero())
	}

	require.Len(t, publisher.events, 1)
	assert.Equal(t, models.EventAssignmentsPublished, publisher.events[0].Name)
	assert.Equal(t, []string{"ok"}, metrics.outcomes)
}

func TestAssignmentServiceGatewayFailureKeepsPreviousSet(t *testing.T) {
	svc, store, publisher, metrics := newAssignmentFixture(&gatewayStub{err: errors.New("exit status 1")})

	_, err := svc.Trigger(context.Background(), "term-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAssignmentFailed))
	assert.Zero(t, store.replaces)
	assert.Empty(t, publisher.events)
	assert.Equal(t, []string{"assignment_failed"}, metrics.outcomes)
}

func TestAssignmentServiceRejectsPartialResult(t *testing.T) {
	gateway := &gatewayStub{records: []models.AssignmentRecord{
		{UserID: "u1", CourseID: "c1", AssignedPreference: intPtr(1)},
		{UserID: "u2", CourseID: "c1", AssignedPreference: intPtr(1)},
	}}
	svc, store, publisher, _ := newAssignmentFixture(gateway)

	_, err := svc.Trigger(context.Background(), "term-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAssignmentReject))
	assert.Zero(t, store.replaces)
	assert.Empty(t, publisher.events)
}

func TestAssignmentServiceRejectsResultWhenSelectionsChangedDuringRun(t *testing.T) {
	gateway := &gatewayStub{records: []models.AssignmentRecord{
		{UserID: "u1", CourseID: "c1", AssignedPreference: intPtr(1)},
		{UserID: "u2", CourseID: "c2", AssignedPreference: intPtr(2)},
	}}
	svc, store, publisher, metrics := newAssignmentFixture(gateway)
	gateway.during = func() { store.version++ }

	_, err := svc.Trigger(context.Background(), "term-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAssignmentReject))
	assert.Zero(t, store.replaces)
	assert.Nil(t, store.replaced)
	assert.Empty(t, publisher.events)
	assert.Equal(t, []string{"assignment_rejected"}, metrics.outcomes)
}

func TestAssignmentServiceStorageFailureDoesNotPublish(t *testing.T) {
	gateway := &gatewayStub{records: []models.AssignmentRecord{{UserID: "u1", CourseID: "c1", AssignedPreference: intPtr(1)}}}
	svc, store, publisher, _ := newAssignmentFixture(gateway)
	store.replaceErr = errors.New("connection reset")

	_, err := svc.Trigger(context.Background(), "term-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	assert.Empty(t, publisher.events)
}

func TestAssignmentServiceBroadcastFailureIsNotSurfaced(t *testing.T) {
	gateway := &gatewayStub{records: []models.AssignmentRecord{{UserID: "u1", CourseID: "c1", AssignedPreference: intPtr(1)}}}
	svc, store, publisher, _ := newAssignmentFixture(gateway)
	publisher.err = errors.New("redis down")

	_, err := svc.Trigger(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.replaces)
}

func TestAssignmentServiceRejectsConcurrentRun(t *testing.T) {
	gateway := &gatewayStub{block: make(chan struct{}), started: make(chan struct{})}
	svc, _, _, _ := newAssignmentFixture(gateway)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Trigger(context.Background(), "term-1")
		done <- err
	}()
	<-gateway.started

	_, err := svc.Trigger(context.Background(), "term-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	close(gateway.block)
	require.NoError(t, <-done)
}

func TestAssignmentServiceUnknownTerm(t *testing.T) {
	svc, _, _, _ := newAssignmentFixture(&gatewayStub{})
	_, err := svc.Trigger(context.Background(), "term-9")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAssignmentServiceExport(t *testing.T) {
	svc, store, _, _ := newAssignmentFixture(&gatewayStub{})
	store.details = []models.AssignmentDetail{{
		AssignmentRecord: models.AssignmentRecord{UserID: "u1", CourseID: "c1", AssignedPreference: intPtr(1), AssignedAt: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)},
		FullName:         "Ada Lovelace",
		Email:            "ada@example.com",
		CourseCode:       "CS101",
		CourseName:       "Programming",
	}}

	file, err := svc.Export(context.Background(), "term-1", dto.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "assignments-term-1.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Contains(t, string(file.Content), "Ada Lovelace,ada@example.com,CS101,Programming,1,2024-08-01T00:00:00Z")

	file, err = svc.Export(context.Background(), "term-1", dto.ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.NotEmpty(t, file.Content)

	_, err = svc.Export(context.Background(), "term-1", dto.ExportFormat("xlsx"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
