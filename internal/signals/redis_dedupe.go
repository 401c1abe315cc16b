package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amx/backend/internal/core"
)

// RedisDedupe keeps the idempotency ledger in a Redis set so dedupe survives
// process restarts and is shared across replicas.
type RedisDedupe struct {
	rdb    *redis.Client
	setKey string
}

// NewRedisDedupe connects to Redis and verifies connectivity.
func NewRedisDedupe(addr, password string, db int) (*RedisDedupe, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	return &RedisDedupe{rdb: rdb, setKey: "signals:delivered"}, nil
}

func (d *RedisDedupe) MarkDelivered(ctx context.Context, sig core.Signal) (bool, error) {
	added, err := d.rdb.SAdd(ctx, d.setKey, DedupeKey(sig)).Result()
	if err != nil {
		return false, fmt.Errorf("mark delivered %s: %w", DedupeKey(sig), err)
	}
	return added == 1, nil
}

func (d *RedisDedupe) Unmark(ctx context.Context, sig core.Signal) error {
	if err := d.rdb.SRem(ctx, d.setKey, DedupeKey(sig)).Err(); err != nil {
		return fmt.Errorf("unmark %s: %w", DedupeKey(sig), err)
	}
	return nil
}

func (d *RedisDedupe) Delivered(ctx context.Context, sig core.Signal) (bool, error) {
	ok, err := d.rdb.SIsMember(ctx, d.setKey, DedupeKey(sig)).Result()
	if err != nil {
		return false, fmt.Errorf("check delivered %s: %w", DedupeKey(sig), err)
	}
	return ok, nil
}

// Close shuts down the underlying client.
func (d *RedisDedupe) Close() error { return d.rdb.Close() }
