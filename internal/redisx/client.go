package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache wraps the keys the API and the notifier share.
type Cache struct {
	RDB redis.Cmdable
}

// TrackedOrder returns the cached JSON for an order number; ok is false on
// a miss.
func (c *Cache) TrackedOrder(ctx context.Context, number string) ([]byte, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderTrack, number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Track entries carry the length of the order's tracking history as their
// version. A write older than the last invalidation is dropped, so a slow
// read cannot put back a view a transition already replaced.
var setTrackScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if cur > tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

var invalidateTrackScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > cur then
  cur = tonumber(ARGV[1])
end
redis.call('SET', KEYS[2], cur, 'PX', ARGV[2])
redis.call('DEL', KEYS[1])
return cur
`)

func trackKeys(number string) []string {
	return []string{fmt.Sprintf(KeyOrderTrack, number), fmt.Sprintf(KeyOrderTrackVersion, number)}
}

// SetTrackedOrder caches body unless a newer version was invalidated since.
func (c *Cache) SetTrackedOrder(ctx context.Context, number string, version int, body []byte) error {
	return setTrackScript.Run(ctx, c.RDB, trackKeys(number), body, version, TTLTrackCache.Milliseconds()).Err()
}

// InvalidateOrder drops the cached view and records version as the oldest
// one still allowed in.
func (c *Cache) InvalidateOrder(ctx context.Context, number string, version int) error {
	return invalidateTrackScript.Run(ctx, c.RDB, trackKeys(number), version, TTLTrackCache.Milliseconds()).Err()
}

const idemPending = "pending"

// ClaimIdempotency marks key as in flight. It returns the stored response
// when a previous request already completed, and claimed=false when another
// request holds the key.
func (c *Cache) ClaimIdempotency(ctx context.Context, key string) (stored []byte, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderPlace, key)
	ok, err := c.RDB.SetNX(ctx, k, idemPending, TTLIdemPending).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}
	b, err := c.RDB.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(b) == idemPending {
		return nil, false, nil
	}
	return b, false, nil
}

func (c *Cache) StoreIdempotent(ctx context.Context, key string, response []byte) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderPlace, key), response, TTLIdempotency).Err()
}

// ReleaseIdempotency drops a claim after a failed request so it can be
// retried.
func (c *Cache) ReleaseIdempotency(ctx context.Context, key string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderPlace, key)).Err()
}

// FirstSeen records an event id for service and reports whether it was new.
func (c *Cache) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	return c.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}
