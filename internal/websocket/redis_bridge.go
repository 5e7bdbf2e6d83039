package websocket

import (
	"context"

	"marketplace-inbox/internal/events"
)

// RedisBridge relays user channel updates from redis to the local hub, so a
// session on any replica reaches the user's connections on this one.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

// Run blocks until ctx ends or the subscription fails.
func (b *RedisBridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, []string{events.ChannelPatternUser}, func(channel string, payload []byte) {
		if _, ok := events.UserFromChannel(channel); !ok {
			return
		}
		b.hub.Broadcast(channel, payload)
	})
}
