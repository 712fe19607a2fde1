// Package dedup implements the optional Redis-backed accelerator for the
// Acquirer's artifact idempotence check: a hash mapping
// artifact_id -> message_id_reference so a hit can short-circuit straight
// to the mirror message instead of only learning "seen before".
//
// Redis is advisory only: every method swallows connection/command
// errors and reports a miss, so a Redis outage degrades the Acquirer to
// its jobstore.GetByArtifact directory-backed lookup rather than
// breaking idempotence.
package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const hashKey = "vidreel:artifact_mirrors"

// Cache wraps a redis.Client with the artifact_id -> message_id_reference
// accelerator. A nil *Cache is valid and behaves as an always-miss cache,
// so callers can construct one unconditionally and only wire a real
// client when Redis is configured.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// Options carries the REDIS_ADDR/REDIS_USER/REDIS_PASS trio, surfaced
// through config instead of direct os.Getenv calls.
type Options struct {
	Addr     string
	Username string
	Password string
}

// New constructs a Cache. It does not dial eagerly; the first command
// against an unreachable Redis simply misses.
func New(opts Options, logger *zap.Logger) *Cache {
	if opts.Addr == "" {
		return nil
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Username: opts.Username,
			Password: opts.Password,
		}),
		logger: logger,
	}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Lookup returns the mirror message id tracking artifactID, if the
// accelerator has it cached. ok is false on both a genuine miss and any
// Redis error; callers must still consult the jobstore on a miss.
func (c *Cache) Lookup(ctx context.Context, artifactID int64) (mirrorID int64, ok bool) {
	if c == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	val, err := c.client.HGet(ctx, hashKey, strconv.FormatInt(artifactID, 10)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("dedup: lookup failed, falling back to directory scan", zap.Error(err))
		}
		return 0, false
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// Put records artifactID -> mirrorID. Errors are logged and otherwise
// ignored: a failed Put just means the next Lookup for this artifact
// falls back to the directory scan, same as if Redis were absent.
func (c *Cache) Put(ctx context.Context, artifactID, mirrorID int64) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.HSet(ctx, hashKey, strconv.FormatInt(artifactID, 10), strconv.FormatInt(mirrorID, 10)).Err(); err != nil {
		c.logger.Warn("dedup: put failed", zap.Error(err))
	}
}

// Forget removes artifactID from the accelerator, used when a job is
// deleted (download:clean) so a stale hit doesn't point at a mirror
// message that no longer exists.
func (c *Cache) Forget(ctx context.Context, artifactID int64) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.HDel(ctx, hashKey, strconv.FormatInt(artifactID, 10)).Err(); err != nil {
		c.logger.Warn("dedup: forget failed", zap.Error(err))
	}
}
