package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"line-gemini-relay/internal/model"
)

type redisConversationRepository struct {
	redisClient *redis.Client
	key         string
}

// NewRedisConversationRepository 创建一个把整个对话日志存成单个 Redis 字符串的 ConversationRepository。
func NewRedisConversationRepository(redisClient *redis.Client, key string) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, key: key}
}

// Load 从 Redis 获取对话日志。
func (r *redisConversationRepository) Load(ctx context.Context) ([]model.Conversation, error) {
	data, err := r.redisClient.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return []model.Conversation{}, nil // No history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return entries, nil
}

// Save 覆盖 Redis 中的对话日志，不设置过期时间。
func (r *redisConversationRepository) Save(ctx context.Context, entries []model.Conversation) error {
	data, err := encodeEntries(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}
