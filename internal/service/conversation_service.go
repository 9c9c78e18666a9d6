// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/internal/repository"
	"line-gemini-relay/pkg/log"
	"line-gemini-relay/pkg/tasks"
)

// DefaultRecentLimit 是 RecentForUser 在未指定数量时返回的条数。
const DefaultRecentLimit = 5

var (
	// ErrPersistence 表示对话日志写入后端失败，内存状态保持不变。
	ErrPersistence = errors.New("conversation persistence failed")
	// ErrArchive 表示清空前归档快照失败，清空操作已中止。
	ErrArchive = errors.New("conversation archive failed")
)

// EventPublisher 接收对话日志的变更事件，例如 Kafka 生产者或 websocket 推送。
// Publish 在持有写锁时被调用，实现不能回调 ConversationService。
type EventPublisher interface {
	Publish(ctx context.Context, event tasks.ConversationEvent) error
}

// Archiver 在清空之前保存当前快照。
type Archiver interface {
	Archive(ctx context.Context, entries []model.Conversation) error
}

// ConversationService 定义了对话日志的业务操作。
type ConversationService interface {
	// Load 从后端读取快照，替换内存中的记录。
	Load(ctx context.Context) error
	// Append 追加一条记录并持久化完整快照，返回新记录的 id。
	Append(ctx context.Context, userID, question, answer string) (int, error)
	// Clear 清空全部记录并持久化空快照。
	Clear(ctx context.Context) error
	// RecentForUser 返回该用户最近 limit 条记录（按插入顺序）以及未显示的更早记录数。
	RecentForUser(userID string, limit int) ([]model.Conversation, int)
	// All 返回全部记录的副本。
	All() []model.Conversation
}

// ConversationOption 配置 conversationService 的可选依赖。
type ConversationOption func(*conversationService)

// WithClock 替换记录时间戳使用的时钟。
func WithClock(now func() time.Time) ConversationOption {
	return func(s *conversationService) { s.now = now }
}

// WithPublishers 注册变更事件的接收方。
func WithPublishers(publishers ...EventPublisher) ConversationOption {
	return func(s *conversationService) { s.publishers = append(s.publishers, publishers...) }
}

// WithArchiver 在每次清空前归档当前快照。
func WithArchiver(archiver Archiver) ConversationOption {
	return func(s *conversationService) { s.archiver = archiver }
}

type conversationService struct {
	repo       repository.ConversationRepository
	now        func() time.Time
	publishers []EventPublisher
	archiver   Archiver

	mu      sync.RWMutex
	entries []model.Conversation
}

// NewConversationService 创建一个新的 ConversationService，内存中初始为空，需要调用 Load。
func NewConversationService(repo repository.ConversationRepository, opts ...ConversationOption) ConversationService {
	s := &conversationService{
		repo:    repo,
		now:     time.Now,
		entries: []model.Conversation{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 读取后端快照。数据损坏时返回错误，由调用方决定是否终止启动。
func (s *conversationService) Load(ctx context.Context) error {
	entries, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversation history: %w", err)
	}
	if entries == nil {
		entries = []model.Conversation{}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	log.Infof("已加载 %d 条历史对话", len(entries))
	return nil
}

// Append 先持久化包含新记录的快照，成功后才更新内存。
// 事件在持有写锁时发布，订阅方看到的顺序与提交顺序一致。
func (s *conversationService) Append(ctx context.Context, userID, question, answer string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.Conversation{
		ID:        len(s.entries) + 1,
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		Timestamp: model.FormatTime(s.now()),
	}
	next := make([]model.Conversation, len(s.entries), len(s.entries)+1)
	copy(next, s.entries)
	next = append(next, entry)

	if err := s.repo.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.entries = next

	s.publish(ctx, tasks.ConversationEvent{Type: tasks.EventAppended, Entry: &entry, OccurredAt: s.now()})
	return entry.ID, nil
}

// Clear 归档（如已配置）后写入空快照。
func (s *conversationService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.archiver != nil && len(s.entries) > 0 {
		if err := s.archiver.Archive(ctx, s.entries); err != nil {
			return fmt.Errorf("%w: %w", ErrArchive, err)
		}
	}
	if err := s.repo.Save(ctx, []model.Conversation{}); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.entries = []model.Conversation{}

	s.publish(ctx, tasks.ConversationEvent{Type: tasks.EventCleared, OccurredAt: s.now()})
	return nil
}

// RecentForUser 过滤出该用户的记录，保留最后 limit 条。
func (s *conversationService) RecentForUser(userID string, limit int) ([]model.Conversation, int) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Conversation
	for _, e := range s.entries {
		if e.UserID == userID {
			matched = append(matched, e)
		}
	}
	omitted := 0
	if len(matched) > limit {
		omitted = len(matched) - limit
		matched = matched[omitted:]
	}
	return matched, omitted
}

// All 返回全部记录的副本，调用方可以安全修改。
func (s *conversationService) All() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, len(s.entries))
	copy(out, s.entries)
	return out
}

// publish 通知所有接收方，调用方持有写锁；失败只记录日志，不影响已完成的变更。
func (s *conversationService) publish(ctx context.Context, event tasks.ConversationEvent) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, event); err != nil {
			log.Warnw("发布对话事件失败", "type", event.Type, "error", err)
		}
	}
}
