package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"line-gemini-relay/internal/model"
)

const mysqlInsertBatchSize = 100

type mysqlConversationRepository struct {
	db *gorm.DB
}

// NewMySQLConversationRepository 创建一个 GORM 实现的 ConversationRepository，并确保表结构存在。
func NewMySQLConversationRepository(db *gorm.DB) (ConversationRepository, error) {
	if err := db.AutoMigrate(&model.Conversation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate conversations table: %w", err)
	}
	return &mysqlConversationRepository{db: db}, nil
}

// Load 按 id 顺序读取全部记录。
func (r *mysqlConversationRepository) Load(ctx context.Context) ([]model.Conversation, error) {
	entries := []model.Conversation{}
	if err := r.db.WithContext(ctx).Order("id asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return entries, nil
}

// Save 在一个事务中清空表并写入完整快照。
func (r *mysqlConversationRepository) Save(ctx context.Context, entries []model.Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Conversation{}).Error; err != nil {
			return fmt.Errorf("failed to truncate conversations: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&entries, mysqlInsertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert conversations: %w", err)
		}
		return nil
	})
}
