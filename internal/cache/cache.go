// Package cache implements the gateway's caching, distributed-locking, and
// keyspace-prefixing substrate on top of Redis, per SPEC_FULL.md §4.8.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"relaycore/internal/config"
)

// Client is a singleton cache surface with a prefixed keyspace. Every
// operation degrades to a no-op (or a fail-open optimistic result, for
// locks) when the backing Redis connection is unavailable, so a cache
// outage never becomes a fatal pipeline error by itself — callers that need
// that guarantee wrap the non-fatal classification themselves (see
// gatewayerr.CacheUnavailable).
type Client struct {
	rdb        redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
}

// New builds a Client. The Redis connection is established lazily; ping
// failures do not prevent construction, matching IsConnected()'s role as
// the gate every operation checks.
func New(cfg config.CacheConfig) *Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		rdb:        redis.NewClient(opts),
		prefix:     cfg.KeyPrefix,
		defaultTTL: ttl,
	}
}

// NewFromClient wraps an already-constructed redis client, used by tests
// against miniredis-style fakes and by callers sharing one connection pool
// across cache + lock + pub/sub usage.
func NewFromClient(rdb redis.UniversalClient, prefix string, defaultTTL time.Duration) *Client {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Client{rdb: rdb, prefix: prefix, defaultTTL: defaultTTL}
}

func (c *Client) key(k string) string { return c.prefix + k }

// IsConnected gates every cache and lock operation. It pings with a short
// bounded timeout so a wedged connection doesn't stall a pipeline stage.
func (c *Client) IsConnected(ctx context.Context) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	return c.rdb.Ping(cctx).Err() == nil
}

// Get fetches and JSON-decodes a value into dst. Returns false on miss, on
// decode failure, or when the cache is disconnected.
func (c *Client) Get(ctx context.Context, key string, dst any) bool {
	if !c.IsConnected(ctx) {
		return false
	}
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("cache_get_error")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache_decode_error")
		return false
	}
	return true
}

// Set JSON-encodes value and stores it with ttl (or the client default when
// ttl <= 0). It is a no-op when disconnected.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsConnected(ctx) {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), data, ttl).Err()
}

// Del removes one or more keys. No-op when disconnected.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.IsConnected(ctx) || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

// Exists reports whether key is present. Returns false when disconnected.
func (c *Client) Exists(ctx context.Context, key string) bool {
	if !c.IsConnected(ctx) {
		return false
	}
	n, err := c.rdb.Exists(ctx, c.key(key)).Result()
	return err == nil && n > 0
}

// Expire resets a key's TTL. No-op when disconnected.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if !c.IsConnected(ctx) {
		return nil
	}
	return c.rdb.Expire(ctx, c.key(key), ttl).Err()
}

// Keys lists keys matching a prefix-relative glob pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	if !c.IsConnected(ctx) {
		return nil, nil
	}
	full, err := c.rdb.Keys(ctx, c.key(pattern)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(full))
	for i, k := range full {
		out[i] = k[len(c.prefix):]
	}
	return out, nil
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// --- domain helpers (§4.8) ---

// CacheSession stores a lightweight session snapshot under
// "session:<sessionID>" for ttl.
func (c *Client) CacheSession(ctx context.Context, sessionID string, value any, ttl time.Duration) error {
	return c.Set(ctx, "session:"+sessionID, value, ttl)
}

// CacheModelResponse caches a provider response under
// "modelresp:<fingerprint>" for ttl, keyed by a caller-supplied request
// fingerprint.
func (c *Client) CacheModelResponse(ctx context.Context, fingerprint string, value any, ttl time.Duration) error {
	return c.Set(ctx, "modelresp:"+fingerprint, value, ttl)
}

// CacheUserData caches arbitrary per-user state (e.g. slider preference).
func (c *Client) CacheUserData(ctx context.Context, userID string, value any, ttl time.Duration) error {
	return c.Set(ctx, "user:"+userID, value, ttl)
}

// CacheMCPResult caches a tool execution result keyed by tool id + argument
// hash, avoiding duplicate calls to idempotent tools within a turn.
func (c *Client) CacheMCPResult(ctx context.Context, toolID, argHash string, value any, ttl time.Duration) error {
	return c.Set(ctx, "mcp:"+toolID+":"+argHash, value, ttl)
}
