package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAPI is the subset of the go-redis client used for guest carts.
type RedisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const guestKeyPrefix = "cart:guest:"

// RedisStore keeps anonymous carts keyed by session id. Entries expire after
// ttl of inactivity.
type RedisStore struct {
	client RedisAPI
	ttl    time.Duration
}

func NewRedisStore(client RedisAPI, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, guestKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get guest cart: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode guest cart: %w", err)
	}
	if snap.Items == nil {
		snap.Items = []Item{}
	}
	return &snap, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, snap Snapshot) error {
	if snap.Items == nil {
		snap.Items = []Item{}
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode guest cart: %w", err)
	}
	if err := s.client.Set(ctx, guestKeyPrefix+sessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set guest cart: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, guestKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete guest cart: %w", err)
	}
	return nil
}
