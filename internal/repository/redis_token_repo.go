package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"session-auth/internal/model"
)

const defaultRedisKeyPrefix = "session-auth:rt:"

// RedisTokenRepository stores each user's refresh token as a Redis hash
// with fields "token" and "updated_at" (unix nanoseconds).
type RedisTokenRepository struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisTokenRepository connects using a URL such as redis://:pass@host:6379/0
// and fails fast when the server is unreachable.
func NewRedisTokenRepository(ctx context.Context, redisURL string, prefix string) (*RedisTokenRepository, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisTokenRepository{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisTokenRepository) key(userID string) string { return r.prefix + userID }

func (r *RedisTokenRepository) FindByUserID(ctx context.Context, userID string) (model.RefreshToken, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	token, ok := fields["token"]
	if !ok {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}

	t := model.RefreshToken{Token: token, UserID: userID}
	if raw, ok := fields["updated_at"]; ok {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.RefreshToken{}, fmt.Errorf("decode refresh token timestamp: %w", err)
		}
		t.UpdatedAt = time.Unix(0, nanos).UTC()
	}
	return t, nil
}

func (r *RedisTokenRepository) Save(ctx context.Context, t model.RefreshToken) error {
	created, err := r.rdb.HSetNX(ctx, r.key(t.UserID), "token", t.Token).Result()
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	if !created {
		return fmt.Errorf("store refresh token: %w", ErrTokenExists)
	}
	if err := r.rdb.HSet(ctx, r.key(t.UserID), "updated_at", t.UpdatedAt.UnixNano()).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// Update overwrites the token only when a record exists; the existence check
// and the write run under WATCH so a concurrent Delete aborts the transaction.
func (r *RedisTokenRepository) Update(ctx context.Context, t model.RefreshToken) error {
	key := r.key(t.UserID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrTokenNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "token", t.Token, "updated_at", t.UpdatedAt.UnixNano())
			return nil
		})
		return err
	}, key)

	if errors.Is(err, model.ErrTokenNotFound) {
		return model.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	return nil
}

func (r *RedisTokenRepository) Delete(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *RedisTokenRepository) Close() error {
	return r.rdb.Close()
}
