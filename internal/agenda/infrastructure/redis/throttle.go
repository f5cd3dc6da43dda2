// Package redis provides a Redis-backed reminder throttle so that multiple
// worker instances never double-send the same reminder.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReminderThrottle deduplicates reminder dispatch across processes using
// SET NX with a TTL. The first caller for a key wins; everyone else within
// the TTL is told to stand down.
type ReminderThrottle struct {
	client *redis.Client
}

// NewReminderThrottle creates a Redis-backed reminder throttle.
func NewReminderThrottle(client *redis.Client) *ReminderThrottle {
	return &ReminderThrottle{client: client}
}

// namespaceKey keeps throttle keys out of the way of other Redis users.
func (t *ReminderThrottle) namespaceKey(key string) string {
	return fmt.Sprintf("pauta:reminder:%s", key)
}

// Acquire returns true when this caller holds the sole right to send the
// reminder identified by key for the duration of ttl.
func (t *ReminderThrottle) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.namespaceKey(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reminder throttle: %w", err)
	}
	return ok, nil
}

// Release frees a key before its TTL expires, used when the send failed and
// another worker should be allowed to retry sooner.
func (t *ReminderThrottle) Release(ctx context.Context, key string) error {
	return t.client.Del(ctx, t.namespaceKey(key)).Err()
}
