package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is what a claim attempt found.
type State int

const (
	// Claimed: the caller now owns the event until its lease runs out.
	Claimed State = iota
	// InProgress: another handler holds a live lease on the event.
	InProgress
	// Done: the event was handled already.
	Done
)

const (
	valuePending = "pending"
	valueDone    = "done"
)

// Store remembers which events were already handled. A claim only becomes
// permanent through Complete, so a handler that dies mid-event leaves a lease
// that expires and lets the redelivery through.
type Store interface {
	Claim(ctx context.Context, key string) (State, error)
	// Complete marks a claimed event handled.
	Complete(ctx context.Context, key string) error
	// Release forgets a claim so a redelivery is handled again.
	Release(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
	lease  time.Duration
	ttl    time.Duration
}

// NewRedisStore keeps in-progress claims for lease and handled events for ttl.
func NewRedisStore(client *redis.Client, lease, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		lease:  lease,
		ttl:    ttl,
	}
}

func (r *RedisStore) Claim(ctx context.Context, key string) (State, error) {
	ok, err := r.client.SetNX(ctx, claimKey(key), valuePending, r.lease).Result()
	if err != nil {
		return 0, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return Claimed, nil
	}

	v, err := r.client.Get(ctx, claimKey(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the two calls; the next attempt will claim it
		return InProgress, nil
	case err != nil:
		return 0, fmt.Errorf("redis get failed: %w", err)
	case v == valueDone:
		return Done, nil
	default:
		return InProgress, nil
	}
}

func (r *RedisStore) Complete(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, claimKey(key), valueDone, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, claimKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func claimKey(key string) string {
	return fmt.Sprintf("notification:event:%s", key)
}
