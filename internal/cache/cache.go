// Package cache holds cached HTTP responses for the public read endpoints.
package cache

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the response cache. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Purge drops every key this store owns.
	Purge(ctx context.Context) error
}

// Prefix namespaces every key, so Purge never touches anything else in
// the database.
const Prefix = "echoshock:http"

// Key builds "<Prefix>:<sha1(method:path?query)>".
func Key(method, path, rawQuery string) string {
	sum := sha1.Sum([]byte(method + ":" + path + "?" + rawQuery))
	return fmt.Sprintf("%s:%x", Prefix, sum[:])
}

type Redis struct {
	rdb *redis.Client
}

var _ Store = (*Redis)(nil)

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Purge(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, Prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: purge: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: scanning keys: %w", err)
	}
	if len(keys) > 0 {
		if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache: purge: %w", err)
		}
	}
	return nil
}

// NewRedisClient connects and pings. It returns nil when addr is empty or
// the server does not answer, in which case the server runs uncached.
func NewRedisClient(addr, password string, db int, logger *slog.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, response cache disabled",
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
