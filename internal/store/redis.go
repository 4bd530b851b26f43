package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Backend over a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the server at url (redis://host[:port][/db]) and
// verifies it answers.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url %q: %w", url, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrUnavailable, opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, key, err)
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Type(ctx context.Context, key string) (string, error) {
	typ, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return "", unavailable("type", key, err)
	}
	return typ, nil
}

func (r *Redis) Len(ctx context.Context, key string) (int64, error) {
	n, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, unavailable("llen", key, err)
	}
	return n, nil
}

func (r *Redis) Index(ctx context.Context, key string, i int64) ([]byte, error) {
	b, err := r.client.LIndex(ctx, key, i).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIndexOutOfRange
	}
	if err != nil {
		return nil, unavailable("lindex", key, err)
	}
	return b, nil
}

func (r *Redis) Append(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := r.client.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, unavailable("rpush", key, err)
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
