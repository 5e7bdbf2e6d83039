package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-inbox/internal/events"

	"github.com/redis/go-redis/v9"
)

type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Notify publishes an inbox update on the user's channel, where every
// replica's websocket bridge picks it up.
func (p *Publisher) Notify(ctx context.Context, userID int64, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	return p.Publish(ctx, events.UserChannel(userID), data)
}
