package service

import (
	"context"
	"errors"
	"strings"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/log"
)

// DefaultSearchSize 是未指定 size 时返回的最大条数。
const DefaultSearchSize = 10

const maxSearchSize = 100

var (
	// ErrSearchDisabled 表示未配置 Elasticsearch，搜索不可用。
	ErrSearchDisabled = errors.New("history search is disabled")
	// ErrEmptyQuery 表示搜索关键词为空。
	ErrEmptyQuery = errors.New("search query is empty")
)

// ConversationSearcher 是对话索引的只读检索接口，由 es.ConversationIndex 实现。
type ConversationSearcher interface {
	Search(ctx context.Context, query, userID string, size int) ([]model.Conversation, error)
}

// SearchService 接口定义了历史对话的全文检索。
type SearchService interface {
	Search(ctx context.Context, query, userID string, size int) ([]model.Conversation, error)
}

type searchService struct {
	searcher ConversationSearcher
}

// NewSearchService 创建一个新的 SearchService 实例。searcher 为 nil 时所有搜索返回 ErrSearchDisabled。
func NewSearchService(searcher ConversationSearcher) SearchService {
	return &searchService{searcher: searcher}
}

// Search 规范化参数后转发到索引。
func (s *searchService) Search(ctx context.Context, query, userID string, size int) ([]model.Conversation, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if size <= 0 {
		size = DefaultSearchSize
	}
	if size > maxSearchSize {
		size = maxSearchSize
	}

	log.Infof("[SearchService] 检索历史对话, query: '%s', user: '%s', size: %d", query, userID, size)
	results, err := s.searcher.Search(ctx, query, userID, size)
	if err != nil {
		log.Errorf("[SearchService] 检索失败: %v", err)
		return nil, err
	}
	return results, nil
}
