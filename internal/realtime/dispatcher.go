package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/jobs"
)

// Sink delivers an encoded batch for one term. The hub itself is a sink for
// single-instance deployments; the Redis relay fans out across instances.
type Sink interface {
	Deliver(ctx context.Context, termID, label string, frames [][]byte) error
}

// HubSink delivers straight to the local hub.
type HubSink struct {
	Hub *Hub
}

// Deliver implements Sink.
func (s HubSink) Deliver(_ context.Context, termID, label string, frames [][]byte) error {
	s.Hub.PublishFrames(termID, label, frames)
	return nil
}

type batch struct {
	termID string
	label  string
	frames [][]byte
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

// Dispatcher publishes committed events off the request path. Events are
// grouped per term so one commit reaches a subscriber as one batch, and the
// batches of one term are delivered in the order they were published.
type Dispatcher struct {
	sink   Sink
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewDispatcher wires a dispatcher around a sink.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{sink: sink, logger: logger}
	d.queue = jobs.NewQueue("realtime-dispatch", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return d
}

// Start launches the workers on a context independent from any request.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains pending batches until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.queue.Stop(ctx)
}

// Stats reports delivery counters of the worker pool.
func (d *Dispatcher) Stats() jobs.Stats {
	return d.queue.Stats()
}

// Publish schedules delivery of events that were already committed. Failures
// are logged and never reported to the writer.
func (d *Dispatcher) Publish(events ...models.Event) {
	for _, b := range d.group(events) {
		job := jobs.Job{ID: uuid.NewString(), Type: b.label, Key: b.termID, Payload: b}
		if err := d.queue.Enqueue(job); err != nil {
			d.logger.Error("broadcast not scheduled",
				zap.String("term_id", b.termID),
				zap.String("event", b.label),
				zap.Error(err),
			)
		}
	}
}

// PublishNow delivers synchronously. Used where the caller must know the
// event went out before returning.
func (d *Dispatcher) PublishNow(ctx context.Context, events ...models.Event) error {
	for _, b := range d.group(events) {
		if err := d.sink.Deliver(ctx, b.termID, b.label, b.frames); err != nil {
			return fmt.Errorf("publish %s for term %s: %w", b.label, b.termID, err)
		}
	}
	return nil
}

func (d *Dispatcher) group(events []models.Event) []batch {
	var order []string
	byTerm := make(map[string][]models.Event)
	for _, event := range events {
		if _, ok := byTerm[event.TermID]; !ok {
			order = append(order, event.TermID)
		}
		byTerm[event.TermID] = append(byTerm[event.TermID], event)
	}

	batches := make([]batch, 0, len(order))
	for _, termID := range order {
		grouped := byTerm[termID]
		frames, err := EncodeEvents(grouped...)
		if err != nil {
			d.logger.Error("broadcast encoding failed", zap.String("term_id", termID), zap.Error(err))
			continue
		}
		batches = append(batches, batch{termID: termID, label: grouped[0].Name, frames: frames})
	}
	return batches
}

func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	b, ok := job.Payload.(batch)
	if !ok {
		return fmt.Errorf("unexpected dispatch payload %T", job.Payload)
	}
	return d.sink.Deliver(ctx, b.termID, b.label, b.frames)
}
