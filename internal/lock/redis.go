package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by SET NX PX. The lock expires after TTL
// even if the holder never releases it.
type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewRedisLocker creates a RedisLocker with default TTL and retry delay
func NewRedisLocker(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "groupledger"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:     client,
		prefix:     prefix,
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
		logger:     logger,
	}
}

// WithTTL overrides the lock expiry
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	l.ttl = ttl
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s:lock:%s", l.prefix, key)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("error acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// The caller's context may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
