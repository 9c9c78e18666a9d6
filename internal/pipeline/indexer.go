// Package pipeline 定义了对话事件进入搜索索引的处理流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/log"
	"line-gemini-relay/pkg/tasks"
)

// ConversationIndex 是索引写入端，由 es.ConversationIndex 实现。
type ConversationIndex interface {
	Index(ctx context.Context, entry model.Conversation) error
	DeleteAll(ctx context.Context) error
}

// Indexer 把对话事件同步到搜索索引，实现 kafka.TaskProcessor。
type Indexer struct {
	index ConversationIndex
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(index ConversationIndex) *Indexer {
	return &Indexer{index: index}
}

// Process 处理一条事件：appended 写入文档，cleared 清空索引。
func (p *Indexer) Process(ctx context.Context, event tasks.ConversationEvent) error {
	switch event.Type {
	case tasks.EventAppended:
		if event.Entry == nil {
			return errors.New("appended event without entry")
		}
		if err := p.index.Index(ctx, *event.Entry); err != nil {
			return fmt.Errorf("索引对话 %d 失败: %w", event.Entry.ID, err)
		}
		log.Infof("[Indexer] 对话 %d 已写入索引", event.Entry.ID)
	case tasks.EventCleared:
		if err := p.index.DeleteAll(ctx); err != nil {
			return fmt.Errorf("清空索引失败: %w", err)
		}
		log.Info("[Indexer] 索引已清空")
	default:
		log.Warnf("[Indexer] 忽略未知事件类型: %s", event.Type)
	}
	return nil
}

// Publish 同步写入索引，未启用 Kafka 时直接注册为 service.EventPublisher。
func (p *Indexer) Publish(ctx context.Context, event tasks.ConversationEvent) error {
	return p.Process(ctx, event)
}
