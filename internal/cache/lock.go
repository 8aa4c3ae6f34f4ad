package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its current value still matches the
// caller's lock token, so a lock holder can never release (or extend) a
// lock it no longer owns after TTL expiry handed it to someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// AcquireLock attempts to atomically set key=value with ttl iff key is
// absent (SET NX). When the cache is disconnected, the lock is granted
// optimistically (single-instance fail-open) per SPEC_FULL.md §4.8 — a
// gateway running without Redis degrades to "ordering not enforced" rather
// than refusing all turns.
func (c *Client) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !c.IsConnected(ctx) {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseLock deletes key only if its value still matches value (check-and-
// delete). No-op, successfully, when disconnected.
func (c *Client) ReleaseLock(ctx context.Context, key, value string) error {
	if !c.IsConnected(ctx) {
		return nil
	}
	return releaseScript.Run(ctx, c.rdb, []string{c.key(key)}, value).Err()
}

// ExtendLock resets a held lock's TTL only if value still matches the
// current holder, preventing a slow caller from extending a lock it no
// longer owns.
func (c *Client) ExtendLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !c.IsConnected(ctx) {
		return true, nil
	}
	res, err := extendScript.Run(ctx, c.rdb, []string{c.key(key)}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
