// Package lock serializes ingestion runs of the same pharmacy across service instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/phenrril/pharmastore/internal/domain"
)

const keyPrefix = "lock:ingest:"

// Connect opens a Redis client and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

// Acquire returns domain.ErrRunLocked when another run holds the pharmacy's lock.
func (l *RedisLocker) Acquire(ctx context.Context, pharmacyID string) (domain.RunLock, error) {
	lk, err := l.client.Obtain(ctx, keyPrefix+pharmacyID, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, domain.ErrRunLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain run lock: %w", err)
	}
	return &redisRunLock{lock: lk, ttl: l.ttl}, nil
}

type redisRunLock struct {
	lock *redislock.Lock
	ttl  time.Duration
}

func (r *redisRunLock) Refresh(ctx context.Context) error {
	return r.lock.Refresh(ctx, r.ttl, nil)
}

func (r *redisRunLock) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		log.Warn().Str("key", r.lock.Key()).Msg("run lock expired before release")
		return nil
	}
	return err
}
