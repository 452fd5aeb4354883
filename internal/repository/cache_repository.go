// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"double-ai-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// SessionCacheRepository 定义了会话快照的本地缓存操作。
// 缓存只作为远端不可达时的兜底读源：键按用户隔离，
// 每次远端读取成功后整体覆盖，因此不可能带出其他用户的数据。
type SessionCacheRepository interface {
	// GetSnapshot 返回某用户的会话快照；缓存未命中时返回 (nil, nil)。
	GetSnapshot(ctx context.Context, userID uint) ([]model.ChatSession, error)
	SaveSnapshot(ctx context.Context, userID uint, sessions []model.ChatSession) error
	Invalidate(ctx context.Context, userID uint) error
}

type redisSessionCache struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewSessionCacheRepository 创建一个基于 Redis 的会话快照缓存。
func NewSessionCacheRepository(redisClient *redis.Client, ttl time.Duration) SessionCacheRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisSessionCache{redisClient: redisClient, ttl: ttl}
}

func cacheKey(userID uint) string {
	return fmt.Sprintf("chat:sessions:user:%d", userID)
}

// GetSnapshot 从 Redis 读取某用户的会话快照（含消息）。
func (r *redisSessionCache) GetSnapshot(ctx context.Context, userID uint) ([]model.ChatSession, error) {
	jsonData, err := r.redisClient.Get(ctx, cacheKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil // 无快照
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session snapshot: %w", err)
	}
	var sessions []model.ChatSession
	if err := json.Unmarshal([]byte(jsonData), &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}
	return sessions, nil
}

// SaveSnapshot 将某用户的会话快照整体写入 Redis。
func (r *redisSessionCache) SaveSnapshot(ctx context.Context, userID uint, sessions []model.ChatSession) error {
	jsonData, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	if err := r.redisClient.Set(ctx, cacheKey(userID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session snapshot: %w", err)
	}
	return nil
}

// Invalidate 删除某用户的会话快照。
func (r *redisSessionCache) Invalidate(ctx context.Context, userID uint) error {
	if err := r.redisClient.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session snapshot: %w", err)
	}
	return nil
}
