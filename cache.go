package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RDB is nil when REDIS_ADDR is not configured; every cache call is then a miss.
var RDB *redis.Client

// ConnectRedis sets RDB when redis is configured and reachable.
func ConnectRedis(ctx context.Context, addr string) {
	if addr == "" {
		slog.Warn("REDIS_ADDR not set, role caching disabled")
		return
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("could not connect to redis", "error", err)
		_ = client.Close()
		return
	}
	RDB = client
	slog.Info("connected to redis", "addr", addr)
}

func principalCacheKey(userID uint) string {
	return fmt.Sprintf("user:%d:data", userID)
}

func cachedPrincipal(ctx context.Context, userID uint) (*Principal, bool) {
	if RDB == nil {
		return nil, false
	}

	raw, err := RDB.Get(ctx, principalCacheKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("redis GET failed", "error", err, "user_id", userID)
		}
		return nil, false
	}

	var p Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("failed to unmarshal cached principal", "user_id", userID, "error", err)
		return nil, false
	}
	return &p, true
}

func cachePrincipal(ctx context.Context, p *Principal, ttl time.Duration) {
	if RDB == nil {
		return
	}

	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("failed to marshal principal for caching", "error", err, "user_id", p.UserID)
		return
	}
	if err := RDB.Set(ctx, principalCacheKey(p.UserID), data, ttl).Err(); err != nil {
		slog.Error("redis SET failed", "error", err, "user_id", p.UserID)
	}
}

// invalidatePrincipal drops the cached roles after a membership or account change.
func invalidatePrincipal(ctx context.Context, userID uint) {
	if RDB == nil {
		return
	}
	if err := RDB.Del(ctx, principalCacheKey(userID)).Err(); err != nil {
		slog.Error("failed to invalidate cached principal", "error", err, "user_id", userID)
	}
}
