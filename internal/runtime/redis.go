package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists account bytes in Redis. Serialization per key uses
// optimistic WATCH transactions: a concurrent writer triggers
// redis.TxFailedErr and the update is retried up to maxTxRetries times
// before surfacing ErrVersionConflict.
type RedisStore struct {
	rdb *redis.Client
}

const maxTxRetries = 8

type redisRecord struct {
	Version uint64 `json:"version"`
	Bytes   []byte `json:"bytes"`
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis account store connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get account %s: %w", key, err)
	}

	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Record{}, fmt.Errorf("decode account %s: %w", key, err)
	}
	return Record{Key: key, Version: rr.Version, Bytes: rr.Bytes}, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (Record, error) {
	var committed Record

	txn := func(tx *redis.Tx) error {
		cur := Record{Key: key}
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var rr redisRecord
			if err := json.Unmarshal(raw, &rr); err != nil {
				return fmt.Errorf("decode account %s: %w", key, err)
			}
			cur.Version = rr.Version
			cur.Bytes = rr.Bytes
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		next.Key = key
		next.Version = cur.Version + 1

		encoded, err := json.Marshal(redisRecord{Version: next.Version, Bytes: next.Bytes})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		committed = next
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // another writer won the race, retry on fresh state
		}
		if err != nil {
			return Record{}, err
		}
		return committed, nil
	}
	return Record{}, fmt.Errorf("update account %s: %w", key, ErrVersionConflict)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("delete account %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
