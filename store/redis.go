package store

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueryTimeout bounds every Redis operation so a slow or partitioned
// store degrades into a cache bypass instead of a hung request.
const DefaultQueryTimeout = 5 * time.Second

// lockSpace prefixes lock keys so namespace prefix sweeps never evict a
// lock held by an in-flight computation.
const lockSpace = "lock:"

// scanBatch is the COUNT hint for SCAN-based prefix operations.
const scanBatch = 256

type redisStore struct {
	client *redis.Client
	cfg    config
}

var _ Store = (*redisStore)(nil)

// releaseScript deletes a lock only when the caller still owns it, so a
// worker whose lock TTL elapsed cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type config struct {
	prefix       string
	queryTimeout time.Duration
}

// Option configures a Store implementation.
type Option func(*config)

// WithPrefix namespaces every key under prefix, allowing multiple cache
// deployments to share one Redis instance.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithQueryTimeout overrides the per-operation timeout. Defaults to
// DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

func applyOptions(opts []Option) config {
	cfg := config{queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRedis returns a Store backed by Redis. The caller owns the
// redis.Client lifecycle; Close is a no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Store {
	return &redisStore{client: client, cfg: applyOptions(opts)}
}

func (s *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.queryTimeout)
}

func (s *redisStore) fullKey(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return s.cfg.prefix + ":" + key
}

// unavailable wraps transport failures with the ErrUnavailable marker.
func unavailable(err error) error {
	return errors.Mark(err, ErrUnavailable)
}

func (s *redisStore) Get(ctx context.Context, key string) (bool, []byte, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	data, err := s.client.Get(qctx, s.fullKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, unavailable(err)
	}
	return true, data, nil
}

func (s *redisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Newf("store: non-positive ttl %s for key %q", ttl, key)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.Set(qctx, s.fullKey(key), val, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	n, err := s.client.Del(qctx, s.fullKey(key)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (s *redisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	err := s.scanPrefix(ctx, prefix, func(qctx context.Context, keys []string) error {
		n, err := s.client.Del(qctx, keys...).Result()
		deleted += int(n)
		return err
	})
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	n, err := s.client.Exists(qctx, s.fullKey(key)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (s *redisStore) Count(ctx context.Context, prefix string) (int, error) {
	count := 0
	err := s.scanPrefix(ctx, prefix, func(_ context.Context, keys []string) error {
		count += len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scanPrefix iterates matching data keys in batches. Lock keys are
// filtered out even when the prefix is broad enough to match them (the
// empty prefix of Flush and Count matches everything), so sweeps cannot
// break in-flight computations.
func (s *redisStore) scanPrefix(ctx context.Context, prefix string, fn func(ctx context.Context, keys []string) error) error {
	match := s.fullKey(prefix) + "*"
	lockPrefix := s.fullKey(lockSpace)
	var cursor uint64
	for {
		qctx, cancel := s.queryCtx(ctx)
		keys, next, err := s.client.Scan(qctx, cursor, match, scanBatch).Result()
		if err != nil {
			cancel()
			return unavailable(err)
		}
		keys = slices.DeleteFunc(keys, func(k string) bool {
			return strings.HasPrefix(k, lockPrefix)
		})
		if len(keys) > 0 {
			if err := fn(qctx, keys); err != nil {
				cancel()
				return unavailable(err)
			}
		}
		cancel()
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *redisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	token := uuid.NewString()
	ok, err := s.client.SetNX(qctx, s.fullKey(lockSpace+key), token, ttl).Result()
	if err != nil {
		return "", false, unavailable(err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *redisStore) ReleaseLock(ctx context.Context, key string, token string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := releaseScript.Run(qctx, s.client, []string{s.fullKey(lockSpace + key)}, token).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.Ping(qctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close is a no-op; the caller owns the redis.Client lifecycle.
func (s *redisStore) Close() error {
	return nil
}
