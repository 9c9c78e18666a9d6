// Package tasks defines the messages exchanged over the conversation event stream.
package tasks

import (
	"time"

	"line-gemini-relay/internal/model"
)

// EventType 标识对话日志上发生的变更。
type EventType string

const (
	EventAppended EventType = "appended"
	EventCleared  EventType = "cleared"
)

// ConversationEvent is emitted after every successful store mutation.
// Entry is set only for EventAppended.
type ConversationEvent struct {
	Type       EventType           `json:"type"`
	Entry      *model.Conversation `json:"entry,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}
