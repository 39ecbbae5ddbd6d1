package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type relayMessage struct {
	TermID string            `json:"termId"`
	Label  string            `json:"label"`
	Frames []json.RawMessage `json:"frames"`
}

// Relay carries batches between API instances over Redis Pub/Sub so that
// every instance's hub reaches its own connections.
type Relay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger
}

// NewRelay constructs a relay bound to a channel.
func NewRelay(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, channel: channel, hub: hub, logger: logger}
}

// Deliver implements Sink by publishing the batch to the channel.
func (r *Relay) Deliver(ctx context.Context, termID, label string, frames [][]byte) error {
	msg := relayMessage{TermID: termID, Label: label, Frames: make([]json.RawMessage, len(frames))}
	for i, frame := range frames {
		msg.Frames[i] = frame
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Run consumes the channel and publishes every batch to the local hub until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("realtime relay subscribed", zap.String("channel", r.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(msg.Payload)
		}
	}
}

func (r *Relay) forward(payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("relay message discarded", zap.Error(err))
		return
	}
	frames := make([][]byte, len(msg.Frames))
	for i, frame := range msg.Frames {
		frames[i] = frame
	}
	r.hub.PublishFrames(msg.TermID, msg.Label, frames)
}
