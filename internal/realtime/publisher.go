package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"marcaje/internal/attendance"
)

// DefaultChannel is the Redis pub/sub channel carrying new events.
const DefaultChannel = "marcajes:events"

// Envelope is the JSON pushed to dashboards.
type Envelope struct {
	Type  string           `json:"type"`
	Event attendance.Event `json:"event"`
}

// Publisher sends recorded events to the relay over Redis pub/sub. It
// implements attendance.Broadcaster.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Broadcast(ctx context.Context, evt attendance.Event) error {
	b, err := json.Marshal(Envelope{Type: "marcaje.created", Event: evt})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, b).Err()
}

// Relay forwards every payload published on channel to the hub until ctx
// is done.
func Relay(ctx context.Context, client *redis.Client, channel string, hub *Hub) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("subscribed to event channel")

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !hub.Broadcast([]byte(msg.Payload)) {
				log.Warn().Msg("hub saturated, event dropped")
			}
		case <-ctx.Done():
			return nil
		}
	}
}
