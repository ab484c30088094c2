package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard is implemented by the Redis store and the in-memory store.
type Guard interface {
	// Seen marks key and reports whether it had been marked before.
	Seen(ctx context.Context, key string) (bool, error)
	// Claim takes key for token until ttl elapses; false when someone else holds it.
	Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release drops the claim if token still holds it.
	Release(ctx context.Context, key, token string) error
}

// releaseIfOwner deletes the claim only when it still carries our token, so
// an expired claim re-taken by another worker is left alone.
var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func Key(parts ...string) string {
	return "idem:" + strings.Join(parts, ":")
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

func (s *Store) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Release(ctx context.Context, key, token string) error {
	err := releaseIfOwner.Run(ctx, s.rdb, []string{key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
