package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ctolnik/office-insight/server/sessions"
	"github.com/redis/go-redis/v9"
)

// Sealer encrypts cached values; session text is plaintext and must not sit in Redis unencrypted.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Open(blob string) (string, error)
}

// Redis shares the session view between server replicas.
type Redis struct {
	client *redis.Client
	sealer Sealer
	ttl    time.Duration
}

func NewRedis(client *redis.Client, sealer Sealer, ttl time.Duration) *Redis {
	return &Redis{client: client, sealer: sealer, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]sessions.Session, bool, error) {
	blob, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	plain, err := r.sealer.Open(blob)
	if err != nil {
		return nil, false, fmt.Errorf("open cached sessions: %w", err)
	}
	var value []sessions.Session
	if err := json.Unmarshal([]byte(plain), &value); err != nil {
		return nil, false, fmt.Errorf("decode cached sessions: %w", err)
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []sessions.Session) error {
	if value == nil {
		value = []sessions.Session{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	blob, err := r.sealer.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("seal sessions: %w", err)
	}
	if err := r.client.Set(ctx, key, blob, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
