package prefs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"semaphore/portal/internal/store"
)

const (
	fieldToken = "token"
	fieldTheme = "theme"
)

// Redis keeps one hash per session. Every write slides the key's TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func prefsKey(sessionID string) string {
	return "portal:prefs:" + sessionID
}

func (r *Redis) Load(ctx context.Context, sessionID string) (store.Preferences, error) {
	values, err := r.client.HGetAll(ctx, prefsKey(sessionID)).Result()
	if err != nil {
		return store.Preferences{}, err
	}
	return store.Preferences{
		Token: values[fieldToken],
		Theme: store.Theme(values[fieldTheme]),
	}, nil
}

func (r *Redis) SaveToken(ctx context.Context, sessionID, token string) error {
	return r.set(ctx, sessionID, fieldToken, token)
}

func (r *Redis) ClearToken(ctx context.Context, sessionID string) error {
	key := prefsKey(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, fieldToken)
		r.touch(ctx, pipe, key)
		return nil
	})
	return err
}

func (r *Redis) SaveTheme(ctx context.Context, sessionID string, theme store.Theme) error {
	return r.set(ctx, sessionID, fieldTheme, string(theme))
}

func (r *Redis) set(ctx context.Context, sessionID, field, value string) error {
	key := prefsKey(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		r.touch(ctx, pipe, key)
		return nil
	})
	return err
}

func (r *Redis) touch(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}
