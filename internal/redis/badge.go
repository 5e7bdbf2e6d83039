package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Key pattern: badge:{user_id}, holding the last known unread total.

const badgeTTL = 24 * time.Hour

// BadgeStore mirrors the global unread total so other devices and replicas
// can read the badge without a session.
type BadgeStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewBadgeStore(client *goredis.Client) *BadgeStore {
	return &BadgeStore{client: client, ttl: badgeTTL}
}

func badgeKey(userID int64) string {
	return fmt.Sprintf("badge:%d", userID)
}

func (b *BadgeStore) SetTotal(ctx context.Context, userID int64, total int) error {
	return b.client.Set(ctx, badgeKey(userID), total, b.ttl).Err()
}

func (b *BadgeStore) Clear(ctx context.Context, userID int64) error {
	return b.client.Del(ctx, badgeKey(userID)).Err()
}

// Get returns the mirrored total. ok is false when nothing is stored.
func (b *BadgeStore) Get(ctx context.Context, userID int64) (total int, ok bool, err error) {
	total, err = b.client.Get(ctx, badgeKey(userID)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}
