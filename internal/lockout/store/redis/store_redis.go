package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"faceauth/internal/lockout/models"
)

const keyPrefix = "faceauth:lockout:"

// recordFailureScript increments the counter and arms the lock atomically.
// KEYS[1] state hash; ARGV[1] threshold; ARGV[2] lock-until (unix ms); ARGV[3] now (unix ms).
var recordFailureScript = redis.NewScript(`
local fails = redis.call('HINCRBY', KEYS[1], 'fails', 1)
if fails >= tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'locked_until', ARGV[2])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
local lockedUntil = redis.call('HGET', KEYS[1], 'locked_until')
return {fails, lockedUntil or '0'}
`)

// RedisStore keeps each identity key in a hash {fails, locked_until, updated_at}.
type RedisStore struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.State, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("get lockout state: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	state := &models.State{Key: key}
	if state.Fails, err = atoiField(fields, "fails"); err != nil {
		return nil, err
	}
	lockedMs, err := atoiField(fields, "locked_until")
	if err != nil {
		return nil, err
	}
	updatedMs, err := atoiField(fields, "updated_at")
	if err != nil {
		return nil, err
	}
	state.LockedUntil = fromMillis(int64(lockedMs))
	state.UpdatedAt = fromMillis(int64(updatedMs))
	return state, nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, key string, threshold int, lockUntil, now time.Time) (*models.State, error) {
	res, err := recordFailureScript.Run(ctx, s.client, []string{keyPrefix + key},
		threshold, lockUntil.UnixMilli(), now.UnixMilli()).Slice()
	if err != nil {
		return nil, fmt.Errorf("record lockout failure: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("record lockout failure: unexpected script result %v", res)
	}
	fails, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("record lockout failure: fails has type %T", res[0])
	}
	lockedStr, _ := res[1].(string)
	lockedMs, err := strconv.ParseInt(lockedStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("record lockout failure: parse locked_until: %w", err)
	}
	return &models.State{
		Key:         key,
		Fails:       int(fails),
		LockedUntil: fromMillis(lockedMs),
		UpdatedAt:   now,
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string, now time.Time) error {
	err := s.client.HSet(ctx, keyPrefix+key,
		"fails", 0,
		"locked_until", 0,
		"updated_at", now.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("reset lockout state: %w", err)
	}
	return nil
}

func atoiField(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse lockout field %s: %w", name, err)
	}
	return int(v), nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
