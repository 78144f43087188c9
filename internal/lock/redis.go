package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyroom/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// Redis is a lease-based distributed lock built on SET NX PX.
// A holder that dies loses its keys after ttl.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  RetryPolicy
	logger *zerolog.Logger
}

type RedisOptions struct {
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Retry  RetryPolicy
}

func NewRedis(client *redis.Client, opts RedisOptions, logger *zerolog.Logger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Prefix == "" {
		opts.Prefix = "studyroom:lock:"
	}
	return &Redis{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		wait:   opts.Wait,
		retry:  opts.Retry,
		logger: logging.Component(logger, "lock"),
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}
	keys = normalize(keys)
	if r.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}

	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	release := func() {
		// release must work even when the caller's ctx is already done
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseScript.Run(relCtx, r.client, []string{held[i]}, token).Err(); err != nil {
				r.logger.Warn().Err(err).Str("key", held[i]).Msg("failed to release lock")
			}
		}
	}

	for _, key := range keys {
		full := r.prefix + key
		if err := r.acquire(ctx, full, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, full)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	for attempt := 1; ; attempt++ {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return fmt.Errorf("failed to acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(r.retry.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-timer.C:
		}
	}
}
