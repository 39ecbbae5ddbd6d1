package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-select-api/internal/models"
)

type recordingSubscriber struct {
	id      string
	full    bool
	mu      sync.Mutex
	batches [][][]byte
}

func (s *recordingSubscriber) ID() string { return s.id }

func (s *recordingSubscriber) Deliver(frames [][]byte) bool {
	if s.full {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, frames)
	return true
}

func (s *recordingSubscriber) received() [][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][][]byte(nil), s.batches...)
}

type metricsRecorder struct {
	mu          sync.Mutex
	delivered   int
	dropped     int
	subscribers int
}

func (m *metricsRecorder) ObserveBroadcast(_ string, delivered, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered += delivered
	m.dropped += dropped
}

func (m *metricsRecorder) SetSubscribers(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = count
}

func capacityEvent(termID, courseID string, requests, remaining int, version int64) models.Event {
	return models.NewCapacityChangedEvent(models.CapacitySnapshot{
		CourseID:        courseID,
		TermID:          termID,
		CurrentRequests: requests,
		SeatsRemaining:  remaining,
		Version:         version,
	})
}

func TestHubGroupLifecycle(t *testing.T) {
	hub := NewHub(nil, nil)
	a := &recordingSubscriber{id: "a"}
	b := &recordingSubscriber{id: "b"}
	hub.Register(a)
	hub.Register(b)

	assert.Equal(t, 0, hub.Groups())
	require.NoError(t, hub.Subscribe("a", "term-1"))
	require.NoError(t, hub.Subscribe("b", "term-1"))
	require.NoError(t, hub.Subscribe("a", "term-1"))
	assert.Equal(t, 1, hub.Groups())
	assert.Equal(t, 2, subscriberCount(hub, "term-1"))

	assert.True(t, hub.Unsubscribe("a", "term-1"))
	assert.False(t, hub.Unsubscribe("a", "term-1"))
	assert.Equal(t, 1, subscriberCount(hub, "term-1"))

	hub.Unregister("b")
	assert.Equal(t, 0, hub.Groups())
}

func TestHubSubscribeUnknownConnection(t *testing.T) {
	hub := NewHub(nil, nil)
	assert.ErrorIs(t, hub.Subscribe("ghost", "term-1"), ErrUnknownConnection)
	assert.Equal(t, 0, hub.Groups())
}

func TestHubPublishReachesOnlyTermSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	watching := &recordingSubscriber{id: "watching"}
	elsewhere := &recordingSubscriber{id: "elsewhere"}
	hub.Register(watching)
	hub.Register(elsewhere)
	require.NoError(t, hub.Subscribe("watching", "term-1"))
	require.NoError(t, hub.Subscribe("elsewhere", "term-2"))

	require.NoError(t, publishEvents(hub, "term-1", capacityEvent("term-1", "course-x", 1, 1, 5)))

	require.Len(t, watching.received(), 1)
	assert.Empty(t, elsewhere.received())

	var frame struct {
		Event  string                 `json:"event"`
		TermID string                 `json:"termId"`
		Data   models.CapacityChanged `json:"data"`
	}
	require.NoError(t, json.Unmarshal(watching.received()[0][0], &frame))
	assert.Equal(t, models.EventCapacityChanged, frame.Event)
	assert.Equal(t, "term-1", frame.TermID)
	assert.Equal(t, models.CapacityChanged{CourseID: "course-x", CurrentRequests: 1, SeatsRemaining: 1, Version: 5}, frame.Data)
}

func TestHubPublishKeepsReplaceEventsTogether(t *testing.T) {
	hub := NewHub(nil, nil)
	sub := &recordingSubscriber{id: "sub"}
	hub.Register(sub)
	require.NoError(t, hub.Subscribe("sub", "term-1"))

	require.NoError(t, publishEvents(hub, "term-1",
		capacityEvent("term-1", "course-a", 0, 2, 7),
		capacityEvent("term-1", "course-b", 1, 1, 8),
	))

	batches := sub.received()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestHubPublishDropsForFullSubscriber(t *testing.T) {
	metrics := &metricsRecorder{}
	hub := NewHub(nil, metrics)
	slow := &recordingSubscriber{id: "slow", full: true}
	fast := &recordingSubscriber{id: "fast"}
	hub.Register(slow)
	hub.Register(fast)
	require.NoError(t, hub.Subscribe("slow", "term-1"))
	require.NoError(t, hub.Subscribe("fast", "term-1"))

	require.NoError(t, publishEvents(hub, "term-1", models.NewAssignmentsPublishedEvent("term-1")))

	assert.Len(t, fast.received(), 1)
	assert.Equal(t, 1, metrics.delivered)
	assert.Equal(t, 1, metrics.dropped)
	assert.Equal(t, 2, metrics.subscribers)
}

func TestHubConcurrentMembershipChanges(t *testing.T) {
	hub := NewHub(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		sub := &recordingSubscriber{id: string(rune('A' + i))}
		hub.Register(sub)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = hub.Subscribe(id, "term-1")
			_ = publishEvents(hub, "term-1", capacityEvent("term-1", "course-1", 1, 0, 1))
			hub.Unregister(id)
		}(sub.id)
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Groups())
}

func publishEvents(hub *Hub, termID string, events ...models.Event) error {
	frames, err := EncodeEvents(events...)
	if err != nil {
		return err
	}
	hub.PublishFrames(termID, events[0].Name, frames)
	return nil
}

func subscriberCount(hub *Hub, termID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.groups[termID])
}

func TestHubDropsStaleCapacityVersions(t *testing.T) {
	hub := NewHub(nil, nil)
	sub := &recordingSubscriber{id: "sub"}
	hub.Register(sub)
	require.NoError(t, hub.Subscribe("sub", "term-1"))

	require.NoError(t, publishEvents(hub, "term-1", capacityEvent("term-1", "course-x", 2, 0, 12)))
	require.NoError(t, publishEvents(hub, "term-1", capacityEvent("term-1", "course-x", 1, 1, 11)))
	require.NoError(t, publishEvents(hub, "term-1",
		capacityEvent("term-1", "course-x", 1, 1, 12),
		capacityEvent("term-1", "course-y", 1, 4, 3),
	))
	require.NoError(t, publishEvents(hub, "term-1", models.NewAssignmentsPublishedEvent("term-1")))

	batches := sub.received()
	require.Len(t, batches, 3)
	require.Len(t, batches[1], 1)
	assert.Contains(t, string(batches[1][0]), `"courseId":"course-y"`)
	assert.Contains(t, string(batches[2][0]), models.EventAssignmentsPublished)
}
