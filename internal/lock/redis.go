package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Default settings for RedisLocker.
const (
	DefaultKeyPrefix  = "intake:phone:"
	DefaultLockTTL    = 45 * time.Second
	DefaultRetryDelay = 100 * time.Millisecond
)

// RedisOpts configures a RedisLocker.
type RedisOpts struct {
	KeyPrefix  string
	TTL        time.Duration
	RetryDelay time.Duration
}

// RedisOption mutates RedisOpts.
type RedisOption func(*RedisOpts)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *RedisOpts) { o.KeyPrefix = prefix }
}

// WithTTL sets how long a lease lives if its holder never releases it.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *RedisOpts) { o.TTL = ttl }
}

// WithRetryDelay sets the pause between acquisition attempts.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(o *RedisOpts) { o.RetryDelay = d }
}

// RedisLocker is a distributed Locker built on redsync.
type RedisLocker struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
	opts   RedisOpts
}

// Compile-time check that RedisLocker implements Locker.
var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker wraps an existing go-redis client. Non-positive TTL and
// retry delay fall back to the defaults.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	cfg := RedisOpts{KeyPrefix: DefaultKeyPrefix, TTL: DefaultLockTTL, RetryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   cfg,
	}
}

// DialRedisLocker parses redisURL, pings the server and returns a locker.
func DialRedisLocker(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisLocker, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("RedisLocker: connected", "addr", parsed.Addr)
	return NewRedisLocker(client, opts...), nil
}

// Lock retries until the lease is taken or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	name := l.opts.KeyPrefix + key
	// Tries is bounded by ctx; the count only needs to outlast the TTL.
	tries := int(l.opts.TTL/l.opts.RetryDelay) + 1
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.opts.TTL),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		slog.Debug("RedisLocker.Lock: acquire failed", "key", name, "error", err)
		return nil, &Error{Key: key, Cause: err}
	}
	slog.Debug("RedisLocker.Lock: acquired", "key", name)

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
			slog.Error("RedisLocker: failed to unlock mutex", "key", name, "ok", ok, "error", err)
		}
	}, nil
}

// Close closes the underlying redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
