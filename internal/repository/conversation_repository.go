// Package repository 提供了数据访问层的实现。
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"line-gemini-relay/internal/model"
)

// ConversationRepository 定义了对话日志快照的持久化操作。
// 每次 Save 都以完整快照覆盖之前的内容。
type ConversationRepository interface {
	// Load 读取全部记录；尚无数据时返回空切片而不是错误。
	Load(ctx context.Context) ([]model.Conversation, error)
	// Save 用给定快照整体覆盖已持久化的内容。
	Save(ctx context.Context, entries []model.Conversation) error
}

type fileConversationRepository struct {
	path string
}

// NewFileConversationRepository 创建一个以单个 JSON 文件为后端的 ConversationRepository。
func NewFileConversationRepository(path string) ConversationRepository {
	return &fileConversationRepository{path: path}
}

// Load 读取 JSON 文件；文件不存在视为尚无历史。
func (r *fileConversationRepository) Load(ctx context.Context) ([]model.Conversation, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.Conversation{}, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history file %s: %w", r.path, err)
	}
	return entries, nil
}

// Save 先写临时文件再重命名，整体替换历史文件。
func (r *fileConversationRepository) Save(ctx context.Context, entries []model.Conversation) error {
	data, err := encodeEntries(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history dir: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// encodeEntries 输出带缩进、不转义非 ASCII 字符的 JSON 数组。
func encodeEntries(entries []model.Conversation) ([]byte, error) {
	if entries == nil {
		entries = []model.Conversation{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntries(data []byte) ([]model.Conversation, error) {
	entries := []model.Conversation{}
	if len(bytes.TrimSpace(data)) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		// 文件内容为 null
		entries = []model.Conversation{}
	}
	return entries, nil
}
