package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	counterKeyPrefix = "vai-calls:usage:"
	counterTTL       = 90 * 24 * time.Hour
)

// RedisCounter keeps monthly per-user usage totals in Redis hashes keyed by
// user and month, one field per Kind.
type RedisCounter struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client, now: time.Now}
}

func (c *RedisCounter) Record(ctx context.Context, ev Event) error {
	if ev.Quantity <= 0 || ev.UserID == "" {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = c.now()
	}
	key := counterKey(ev.UserID, at)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, string(ev.Kind), ev.Quantity)
		p.Expire(ctx, key, counterTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("usage counter: %w", err)
	}
	return nil
}

func counterKey(userID string, at time.Time) string {
	return counterKeyPrefix + userID + ":" + at.UTC().Format("2006-01")
}
