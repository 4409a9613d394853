package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/hepatica-risk-engine/internal/domain"
)

// Unlock releases a lock taken by Locker.Lock.
type Unlock func(ctx context.Context) error

// Locker serialises monitoring work on a single patient across processes.
type Locker interface {
	// Lock takes the key for ttl, failing with domain.ErrPatientLocked when
	// another holder has it.
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// NoopLocker grants every lock. It is used when no Redis URL is configured.
type NoopLocker struct{}

// Lock implements Locker
func (NoopLocker) Lock(context.Context, string, time.Duration) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

const lockPrefix = "hepatica:monitoring:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another runner is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a token-checked release.
// Calls go through a circuit breaker so a failing Redis degrades into fast
// lock errors instead of stalling the batch.
type RedisLocker struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewRedisLocker connects to the Redis in config.RedisURL.
func NewRedisLocker(config domain.CacheConfig, logger *logrus.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisLocker(client, logger), nil
}

func newRedisLocker(client *redis.Client, logger *logrus.Logger) *RedisLocker {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "monitoring-lock",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrPatientLocked)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return &RedisLocker{client: client, breaker: breaker, logger: logger}
}

// Lock implements Locker
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	_, err := l.breaker.Execute(func() (interface{}, error) {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrPatientLocked
		}
		return nil, nil
	})
	if errors.Is(err, domain.ErrPatientLocked) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrPatientLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err.Error(),
			}).Warn("Failed to release monitoring lock")
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
