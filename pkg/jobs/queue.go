package jobs

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job represents a queued background task. Jobs sharing a Key are handled
// one at a time in the order they were enqueued.
type Job struct {
	ID       string
	Type     string
	Key      string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Stats reports queue throughput since start.
type Stats struct {
	Processed uint64
	Retried   uint64
	Failed    uint64
	Pending   int
}

// Queue is an in-memory job dispatcher backed by goroutines. Each worker owns
// a lane; keyed jobs always land on the same lane and a failing job is retried
// in place, so nothing behind it on that lane overtakes it. Jobs are handed to
// workers with their own context, detached from whoever enqueued them.
type Queue struct {
	name    string
	handler Handler

	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	lanes    []chan Job
	next     atomic.Uint32
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	draining bool

	processed atomic.Uint64
	retried   atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue builds a new queue with the provided handler. BufferSize applies
// to each lane.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lanes := make([]chan Job, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan Job, cfg.BufferSize)
	}
	return &Queue{
		name:       name,
		handler:    handler,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		lanes:      lanes,
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for _, lane := range q.lanes {
		q.wg.Add(1)
		go q.worker(lane)
	}
	q.started = true
	q.logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", len(q.lanes)))
}

// Stop refuses new jobs, lets workers drain what is already buffered until
// ctx expires, then cancels them and waits for exit.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		for q.pending() > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		q.logger.Warn("queue stopped with pending jobs", zap.String("queue", q.name), zap.Int("pending", q.pending()))
	}

	q.cancel()
	q.wg.Wait()
	q.logger.Info("queue stopped", zap.String("queue", q.name))
}

// Enqueue pushes a job onto its lane, blocking while that lane is full.
// It never observes the caller's context, only the queue's own lifetime.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	draining := q.draining
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if draining {
		return fmt.Errorf("queue %s is draining", q.name)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.lane(job.Key) <- job:
		return nil
	}
}

// Stats returns counters for monitoring.
func (q *Queue) Stats() Stats {
	return Stats{
		Processed: q.processed.Load(),
		Retried:   q.retried.Load(),
		Failed:    q.failed.Load(),
		Pending:   q.pending(),
	}
}

func (q *Queue) lane(key string) chan Job {
	if len(q.lanes) == 1 {
		return q.lanes[0]
	}
	if key == "" {
		return q.lanes[int(q.next.Add(1)%uint32(len(q.lanes)))]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return q.lanes[int(h.Sum32()%uint32(len(q.lanes)))]
}

func (q *Queue) pending() int {
	total := 0
	for _, lane := range q.lanes {
		total += len(lane)
	}
	return total
}

func (q *Queue) worker(lane chan Job) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-lane:
			q.process(job)
		}
	}
}

func (q *Queue) process(job Job) {
	for {
		err := q.handler(q.ctx, job)
		if err == nil {
			q.processed.Add(1)
			return
		}

		job.Attempt++
		if job.Attempt > q.maxRetries {
			q.failed.Add(1)
			q.logger.Error("job exceeded retries",
				zap.String("queue", q.name),
				zap.String("job_id", job.ID),
				zap.String("type", job.Type),
				zap.Int("attempts", job.Attempt),
				zap.Error(err),
			)
			return
		}
		q.retried.Add(1)
		q.logger.Warn("job failed, retrying",
			zap.String("queue", q.name),
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(q.retryDelay << (job.Attempt - 1))
		select {
		case <-q.ctx.Done():
			timer.Stop()
			q.failed.Add(1)
			return
		case <-timer.C:
		}
	}
}
