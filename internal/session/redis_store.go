// Package session keeps application state and directory capabilities in Redis.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flashrevise/api/internal/localdir"
	"flashrevise/api/internal/store"
	"flashrevise/api/internal/tree"
)

const defaultPrefix = "flashrevise:"

// RedisStore implements the state store and the capability store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// SaveState stores the snapshot and cursor as one JSON value.
func (s *RedisStore) SaveState(ctx context.Context, state store.AppState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal app state: %w", err)
	}
	if err := s.client.Set(ctx, s.key("state"), data, 0).Err(); err != nil {
		return fmt.Errorf("save app state: %w", err)
	}
	return nil
}

// LoadState returns store.ErrNoState when nothing was saved yet.
func (s *RedisStore) LoadState(ctx context.Context) (store.AppState, error) {
	data, err := s.client.Get(ctx, s.key("state")).Bytes()
	if err == redis.Nil {
		return store.AppState{}, store.ErrNoState
	}
	if err != nil {
		return store.AppState{}, fmt.Errorf("load app state: %w", err)
	}

	var state store.AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return store.AppState{}, fmt.Errorf("unmarshal app state: %w", err)
	}
	if state.Cursor.Type == "" {
		state.Cursor = tree.Home()
	}
	return state, nil
}

// SaveHandle persists only the descriptor of h. Grants are not stored.
func (s *RedisStore) SaveHandle(ctx context.Context, key string, h *localdir.Handle) error {
	data, err := json.Marshal(h.Descriptor())
	if err != nil {
		return fmt.Errorf("marshal handle: %w", err)
	}
	if err := s.client.Set(ctx, s.key("handle", key), data, 0).Err(); err != nil {
		return fmt.Errorf("save handle: %w", err)
	}
	return nil
}

// LoadHandle rebuilds a handle from its descriptor. It comes back in
// prompt state and must be verified again.
func (s *RedisStore) LoadHandle(ctx context.Context, key string, prompter localdir.Prompter) (*localdir.Handle, error) {
	data, err := s.client.Get(ctx, s.key("handle", key)).Bytes()
	if err == redis.Nil {
		return nil, localdir.ErrNoHandle
	}
	if err != nil {
		return nil, fmt.Errorf("load handle: %w", err)
	}

	var desc localdir.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal handle: %w", err)
	}
	return localdir.OpenHandle(desc, prompter), nil
}

// ForgetHandle drops the stored descriptor. Missing keys are not an error.
func (s *RedisStore) ForgetHandle(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key("handle", key)).Err(); err != nil {
		return fmt.Errorf("forget handle: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
