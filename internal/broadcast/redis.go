package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chadiek/improv/internal/domain"
)

// DefaultChannel is the pub/sub channel events are mirrored to.
const DefaultChannel = "improv:events"

// RedisMirror publishes every event as JSON on a Redis channel so renderers
// outside this process can follow the interaction.
type RedisMirror struct {
	client  *redis.Client
	channel string
}

// NewRedisMirror wraps an existing client.
func NewRedisMirror(client *redis.Client, channel string) *RedisMirror {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisMirror{client: client, channel: channel}
}

// Deliver implements Sink.
func (r *RedisMirror) Deliver(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Channel returns the channel events are published on.
func (r *RedisMirror) Channel() string { return r.channel }
