package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps state in one Redis hash per stream, so several hosts can
// share dedup state.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are "<prefix><stream>".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bcsync:state:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) Lookup(ctx context.Context, stream, hash string) (string, bool, error) {
	id, err := s.client.HGet(ctx, s.prefix+stream, hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading state for %s: %w", stream, err)
	}
	return id, true, nil
}

func (s *RedisStore) Record(ctx context.Context, stream, hash, remoteID string) error {
	if err := s.client.HSet(ctx, s.prefix+stream, hash, remoteID).Err(); err != nil {
		return fmt.Errorf("writing state for %s: %w", stream, err)
	}
	return nil
}

// Flush is a no-op: Record writes through.
func (s *RedisStore) Flush() error { return nil }

func (s *RedisStore) Close() error {
	return s.client.Close()
}
