package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardPublishesBatchToLocalHub(t *testing.T) {
	hub := NewHub(nil, nil)
	sub := &recordingSubscriber{id: "conn-1"}
	hub.Register(sub)
	require.NoError(t, hub.Subscribe("conn-1", "term-1"))

	frames, err := EncodeEvents(
		capacityEvent("term-1", "course-a", 1, 1, 4),
		capacityEvent("term-1", "course-b", 2, 0, 5),
	)
	require.NoError(t, err)
	payload, err := json.Marshal(relayMessage{
		TermID: "term-1",
		Label:  "CapacityChanged",
		Frames: []json.RawMessage{frames[0], frames[1]},
	})
	require.NoError(t, err)

	relay := NewRelay(nil, "events", hub, nil)
	relay.forward(string(payload))
	relay.forward("not json")

	batches := sub.received()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.JSONEq(t, string(frames[1]), string(batches[0][1]))
}
