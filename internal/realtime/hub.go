package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
)

// ErrUnknownConnection is returned when subscribing a connection that was never registered.
var ErrUnknownConnection = errors.New("realtime: unknown connection")

// Subscriber receives frames for the terms it subscribed to. Deliver must not
// block; it reports false when the batch was dropped.
type Subscriber interface {
	ID() string
	Deliver(frames [][]byte) bool
}

// Metrics observes hub activity.
type Metrics interface {
	ObserveBroadcast(event string, delivered, dropped int)
	SetSubscribers(count int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBroadcast(string, int, int) {}
func (noopMetrics) SetSubscribers(int)                {}

// Hub is the registry of live connections and their per-term groups. A term
// group exists only while it has at least one subscriber.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]Subscriber
	groups      map[string]map[string]Subscriber
	memberships map[string]map[string]struct{}

	versions versionGate

	logger  *zap.Logger
	metrics Metrics
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger, metrics Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Hub{
		connections: make(map[string]Subscriber),
		groups:      make(map[string]map[string]Subscriber),
		memberships: make(map[string]map[string]struct{}),
		versions:    versionGate{latest: make(map[string]int64)},
		logger:      logger,
		metrics:     metrics,
	}
}

// Register adds a connection to the registry.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.connections[sub.ID()] = sub
	h.mu.Unlock()
}

// Unregister removes a connection and every membership it holds.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	for termID := range h.memberships[connID] {
		h.leaveLocked(connID, termID)
	}
	delete(h.memberships, connID)
	delete(h.connections, connID)
	count := h.subscriberCountLocked()
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
}

// Subscribe joins a registered connection to a term group, creating the group
// on first use. Subscribing twice is a no-op.
func (h *Hub) Subscribe(connID, termID string) error {
	h.mu.Lock()
	sub, ok := h.connections[connID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}

	group, exists := h.groups[termID]
	if !exists {
		group = make(map[string]Subscriber)
		h.groups[termID] = group
	}
	group[connID] = sub

	terms, exists := h.memberships[connID]
	if !exists {
		terms = make(map[string]struct{})
		h.memberships[connID] = terms
	}
	terms[termID] = struct{}{}
	count := h.subscriberCountLocked()
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	return nil
}

// Unsubscribe removes a connection from a term group and discards the group
// when it becomes empty. It reports whether a membership was removed.
func (h *Hub) Unsubscribe(connID, termID string) bool {
	h.mu.Lock()
	removed := h.leaveLocked(connID, termID)
	if terms, ok := h.memberships[connID]; ok {
		delete(terms, termID)
		if len(terms) == 0 {
			delete(h.memberships, connID)
		}
	}
	count := h.subscriberCountLocked()
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	return removed
}

func (h *Hub) leaveLocked(connID, termID string) bool {
	group, ok := h.groups[termID]
	if !ok {
		return false
	}
	if _, member := group[connID]; !member {
		return false
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(h.groups, termID)
	}
	return true
}

func (h *Hub) subscriberCountLocked() int {
	total := 0
	for _, group := range h.groups {
		total += len(group)
	}
	return total
}

// PublishFrames fans already encoded frames out to the term group. Capacity
// frames older than one already published for the same course are dropped.
// Slow subscribers whose buffers are full miss the batch.
func (h *Hub) PublishFrames(termID, label string, frames [][]byte) {
	frames = h.versions.filter(frames)
	if len(frames) == 0 {
		return
	}

	h.mu.RLock()
	group := h.groups[termID]
	targets := make([]Subscriber, 0, len(group))
	for _, sub := range group {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, sub := range targets {
		if sub.Deliver(frames) {
			delivered++
			continue
		}
		dropped++
		h.logger.Warn("realtime subscriber buffer full, batch dropped",
			zap.String("connection_id", sub.ID()),
			zap.String("term_id", termID),
			zap.String("event", label),
		)
	}
	h.metrics.ObserveBroadcast(label, delivered, dropped)
}

// Groups returns the number of live term groups.
func (h *Hub) Groups() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

type frameHeader struct {
	Event string `json:"event"`
	Data  struct {
		CourseID string `json:"courseId"`
		Version  int64  `json:"version"`
	} `json:"data"`
}

// versionGate remembers the newest capacity version published per course.
type versionGate struct {
	mu     sync.Mutex
	latest map[string]int64
}

func (g *versionGate) filter(frames [][]byte) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := frames[:0:0]
	for _, frame := range frames {
		var header frameHeader
		if err := json.Unmarshal(frame, &header); err != nil || header.Event != models.EventCapacityChanged || header.Data.CourseID == "" {
			kept = append(kept, frame)
			continue
		}
		if last, seen := g.latest[header.Data.CourseID]; seen && header.Data.Version <= last {
			continue
		}
		g.latest[header.Data.CourseID] = header.Data.Version
		kept = append(kept, frame)
	}
	return kept
}

// EncodeEvents marshals each event into a websocket text frame.
func EncodeEvents(events ...models.Event) ([][]byte, error) {
	frames := make([][]byte, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", event.Name, err)
		}
		frames = append(frames, payload)
	}
	return frames, nil
}
