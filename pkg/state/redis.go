package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key under which run state is stored. Deployments
// sharing one Redis instance configure distinct keys.
const DefaultRedisKey = "easyecom:extract:state"

// RedisStore keeps run state as one JSON value in Redis, for deployments
// where the extractor moves between hosts and a local state file would be
// lost.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: client, key: key}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (*RunState, error) {
	data, err := r.redis.Get(ctx, r.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return NewRunState(), nil
		}
		return nil, fmt.Errorf("redis get state: %w", err)
	}

	s := NewRunState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode state from redis: %w", err)
	}
	if s.Bookmarks == nil {
		s.Bookmarks = map[string]Bookmark{}
	}
	return s, nil
}

// Save implements Store. State has no TTL; a checkpoint stays valid until
// the next run overwrites it.
func (r *RedisStore) Save(ctx context.Context, s *RunState) error {
	data, err := json.Marshal(persistable(s))
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := r.redis.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}
