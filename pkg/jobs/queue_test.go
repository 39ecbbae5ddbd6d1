package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	q := NewQueue("test", func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.ID] = true
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{ID: id}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)
	assert.Equal(t, uint64(3), q.Stats().Processed)
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue("retry", func(context.Context, Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "flaky"}))
	require.Eventually(t, func() bool { return q.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Retried)
	assert.Equal(t, uint64(0), stats.Failed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	q := NewQueue("fail", func(context.Context, Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "doomed"}))
	require.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), q.Stats().Retried)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	release := make(chan struct{})
	var done atomic.Int32
	q := NewQueue("drain", func(context.Context, Job) error {
		<-release
		done.Add(1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{}))
	}

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Stop(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.draining
	}, time.Second, 5*time.Millisecond)
	require.Error(t, q.Enqueue(Job{}))

	close(release)
	<-stopped
	assert.Equal(t, int32(3), done.Load())
}

func TestQueueKeepsKeyedJobsInOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	var failedOnce atomic.Bool
	q := NewQueue("ordered", func(_ context.Context, job Job) error {
		n := job.Payload.(int)
		if job.Key == "term-a" && n == 3 && !failedOnce.Swap(true) {
			return errors.New("transient")
		}
		mu.Lock()
		seen[job.Key] = append(seen[job.Key], n)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 4, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())

	const perKey = 50
	for i := 0; i < perKey; i++ {
		for _, key := range []string{"term-a", "term-b", "term-c"} {
			require.NoError(t, q.Enqueue(Job{Key: key, Payload: i}))
		}
	}

	require.Eventually(t, func() bool { return q.Stats().Processed == 3*perKey }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for key, values := range seen {
		require.Len(t, values, perKey, key)
		for i, v := range values {
			assert.Equal(t, i, v, key)
		}
	}
	assert.Equal(t, uint64(1), q.Stats().Retried)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(ctx)
}
