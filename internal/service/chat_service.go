package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/llm"
	"line-gemini-relay/pkg/log"
)

// 命令短语（去除首尾空白并转小写后精确匹配）。
const (
	CommandClearHistory = "删除历史对话"
	CommandViewHistory  = "查看历史"
)

// 固定回复文本。
const (
	ReplyHistoryCleared    = "✅ 已成功清空所有历史对话"
	ReplyClearFailed       = "❌ 清空历史失败，请稍后重试"
	ReplyNoHistory         = "📜 暂无历史对话"
	ReplyHistoryHeader     = "📜 历史对话记录：\n\n"
	ReplyEmptyModelText    = "AI无法回应"
	ReplyQuotaExhausted    = "❌ AI配额已用完，请稍后再试"
	ReplyGenerationFailed  = "❌ AI回覆失败，请稍后重试"
	ReplySticker           = "你传了一个贴图 🧸"
	ReplyImage             = "收到图片了 📷"
	ReplyVideo             = "收到影片 🎥"
	LocationAddressMissing = "（无法取得地址）"
)

// ChatService 把一个入站事件映射为恰好一条回复。
type ChatService interface {
	// Dispatch 返回要发送给用户的回复。error 非空时回复仍然有效，
	// 表示回复已确定但后续持久化失败。
	Dispatch(ctx context.Context, event model.InboundEvent) (string, error)
}

type chatService struct {
	conversations ConversationService
	llmClient     llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(conversations ConversationService, llmClient llm.Client) ChatService {
	return &chatService{
		conversations: conversations,
		llmClient:     llmClient,
	}
}

// Dispatch 按事件类型分发。
func (s *chatService) Dispatch(ctx context.Context, event model.InboundEvent) (string, error) {
	switch e := event.(type) {
	case model.TextEvent:
		return s.handleText(ctx, e)
	case model.StickerEvent:
		return ReplySticker, nil
	case model.ImageEvent:
		return ReplyImage, nil
	case model.VideoEvent:
		return ReplyVideo, nil
	case model.LocationEvent:
		return formatLocation(e), nil
	default:
		return "", fmt.Errorf("unsupported event kind %T", event)
	}
}

func (s *chatService) handleText(ctx context.Context, e model.TextEvent) (string, error) {
	switch strings.ToLower(strings.TrimSpace(e.Text)) {
	case CommandClearHistory:
		if err := s.conversations.Clear(ctx); err != nil {
			log.Errorf("清空历史对话失败, user: %s, error: %v", e.UserID, err)
			return ReplyClearFailed, err
		}
		log.Infof("用户 %s 清空了历史对话", e.UserID)
		return ReplyHistoryCleared, nil
	case CommandViewHistory:
		recent, omitted := s.conversations.RecentForUser(e.UserID, DefaultRecentLimit)
		return FormatHistory(recent, omitted), nil
	}

	reply := s.generate(ctx, e)
	if _, err := s.conversations.Append(ctx, e.UserID, e.Text, reply); err != nil {
		log.Errorf("保存历史对话失败, user: %s, error: %v", e.UserID, err)
		return reply, err
	}
	return reply, nil
}

// generate 调用模型；失败时替换为固定文本，该文本同样会作为回答被记录。
func (s *chatService) generate(ctx context.Context, e model.TextEvent) string {
	res := s.llmClient.Generate(ctx, e.Text)
	if !res.Failed() {
		if res.Text == "" {
			return ReplyEmptyModelText
		}
		return res.Text
	}

	log.Warnw("模型调用失败", "user", e.UserID, "category", res.Failure.Category, "error", res.Failure.Message)
	if isQuotaFailure(res.Failure) {
		return ReplyQuotaExhausted
	}
	return ReplyGenerationFailed
}

func isQuotaFailure(f *llm.Failure) bool {
	return f.Category == llm.CategoryQuota || strings.Contains(strings.ToLower(f.Message), "quota")
}

// FormatHistory 把最近的记录渲染为聊天文本。
func FormatHistory(recent []model.Conversation, omitted int) string {
	if len(recent) == 0 {
		return ReplyNoHistory
	}

	var b strings.Builder
	b.WriteString(ReplyHistoryHeader)
	for i, c := range recent {
		fmt.Fprintf(&b, "%d. 你：%s\n", i+1, c.Question)
		fmt.Fprintf(&b, "   AI：%s\n\n", c.Answer)
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "（还有 %d 条历史对话未显示）", omitted)
	}
	return b.String()
}

func formatLocation(e model.LocationEvent) string {
	address := e.Address
	if address == "" {
		address = LocationAddressMissing
	}
	return fmt.Sprintf("你传了位置：%s\n经纬度：(%s, %s)", address,
		formatCoordinate(e.Latitude), formatCoordinate(e.Longitude))
}

// formatCoordinate 输出最短表示，整数值保留 ".0"（25 显示为 25.0）。
func formatCoordinate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
