package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = &RedisStore{}

const (
	defaultKeyPrefix    = "quotaflow:"
	defaultRetryBudget  = 3
	defaultRetryBackoff = 2 * time.Millisecond
)

// RedisStore applies state transitions through optimistic WATCH/MULTI
// transactions: read the key, run the transform, write the successor, and
// start over if anybody else committed in between. The retry budget is
// deliberately small; a hot key that keeps losing races surfaces as
// ErrContention instead of burning time on the request path.
type RedisStore struct {
	client       *redis.Client
	prefix       string
	retryBudget  int
	retryBackoff time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the prefix applied to every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRetryBudget sets how many times a lost optimistic update is retried.
func WithRetryBudget(attempts int) RedisOption {
	return func(s *RedisStore) { s.retryBudget = attempts }
}

// WithRetryBackoff sets the base backoff between optimistic retries.
func WithRetryBackoff(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retryBackoff = d }
}

// NewRedisStore creates a store on top of an existing redis client. The
// caller owns the client's connection lifecycle.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:       client,
		prefix:       defaultKeyPrefix,
		retryBudget:  defaultRetryBudget,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AtomicApply implements Store.
func (s *RedisStore) AtomicApply(ctx context.Context, key string, fn ApplyFunc) ([]byte, error) {
	fullKey := s.prefix + key

	var result []byte
	var applyErr error

	txf := func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, fullKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if errors.Is(err, redis.Nil) {
			prev = nil
		}

		next, ttl, err := fn(prev)
		if err != nil {
			applyErr = err
			return err
		}
		if next == nil {
			result = prev
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for attempt := 0; attempt < s.retryBudget; attempt++ {
		applyErr = nil
		err := s.client.Watch(ctx, txf, fullKey)
		if err == nil {
			return result, nil
		}
		if applyErr != nil {
			return nil, applyErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			if waitErr := s.backoff(ctx, attempt); waitErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, waitErr)
			}
			continue
		}
		return nil, fmt.Errorf("%w: apply on key %q: %v", ErrUnavailable, key, err)
	}

	return nil, fmt.Errorf("%w: key %q lost %d optimistic attempts", ErrContention, key, s.retryBudget)
}

// backoff sleeps a jittered multiple of the base backoff, honoring the
// caller's deadline.
func (s *RedisStore) backoff(ctx context.Context, attempt int) error {
	wait := time.Duration(attempt+1) * s.retryBackoff
	wait += time.Duration(rand.Int63n(int64(s.retryBackoff) + 1))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
