package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "rbac:perms:version"

// Cache memoizes resolved effective-permission sets per user.
//
// Entries carry no TTL by default: correctness depends entirely on explicit
// invalidation at every mutation point, never on expiry. A missed
// invalidation is a correctness bug, not a staleness window. An optional TTL
// may be configured for operational hygiene only.
//
// Per-user invalidation deletes the entry; InvalidateAll bumps a version
// counter embedded in every key, which orphans all entries at once without
// scanning the keyspace. With a nil client every read is a miss and every
// write a no-op, so the resolver degrades to store reads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the resolution cache. A zero ttl disables expiry.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached slug set for a user, or ok=false on miss.
func (c *Cache) Get(ctx context.Context, userID int64) ([]string, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var slugs []string
	if err := json.Unmarshal(payload, &slugs); err != nil {
		return nil, false, err
	}
	return slugs, true, nil
}

// Put stores the computed slug set keyed by user id.
func (c *Cache) Put(ctx context.Context, userID int64, slugs []string) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return err
	}
	if slugs == nil {
		slugs = []string{}
	}
	payload, err := json.Marshal(slugs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Invalidate drops the cached entry for one user. Invalidation is
// commutative and idempotent; invalidating twice is harmless.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

// InvalidateMany drops entries for every given user, used for the
// role-to-holders fan-out after role-level mutations.
func (c *Cache) InvalidateMany(ctx context.Context, userIDs []int64) error {
	if c == nil || c.client == nil || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		key, err := c.key(ctx, id)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateAll drops every cached entry by bumping the version counter.
// Used after cascading deletes where enumerating affected users is more
// expensive than a full flush.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:perms:%d:%d", ver, userID), nil
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}
