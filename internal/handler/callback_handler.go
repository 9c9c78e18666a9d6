package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/line"
	"line-gemini-relay/pkg/log"
)

// CallbackHandler 处理 LINE 平台推送的 webhook。
type CallbackHandler struct {
	channelSecret string
	chatService   service.ChatService
	replier       line.Replier
}

// NewCallbackHandler 创建一个新的 CallbackHandler。
func NewCallbackHandler(channelSecret string, chatService service.ChatService, replier line.Replier) *CallbackHandler {
	return &CallbackHandler{
		channelSecret: channelSecret,
		chatService:   chatService,
		replier:       replier,
	}
}

// Callback 处理 POST /callback：校验签名，逐个分发事件并回复。
func (h *CallbackHandler) Callback(c *gin.Context) {
	cb, err := webhook.ParseRequest(h.channelSecret, c.Request)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			log.Warnf("Callback: 签名校验失败, clientIP: %s", c.ClientIP())
			c.Status(http.StatusBadRequest)
			return
		}
		log.Error("Callback: 解析 webhook 请求失败", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	ctx := c.Request.Context()
	for _, event := range cb.Events {
		e, ok := event.(webhook.MessageEvent)
		if !ok {
			continue
		}
		inbound, ok := toInboundEvent(e)
		if !ok {
			log.Infof("Callback: 忽略不支持的消息类型 %T", e.Message)
			continue
		}
		h.handleEvent(ctx, e.ReplyToken, inbound)
	}

	c.String(http.StatusOK, "OK")
}

func (h *CallbackHandler) handleEvent(ctx context.Context, replyToken string, event model.InboundEvent) {
	reply, err := h.chatService.Dispatch(ctx, event)
	if err != nil {
		// 持久化失败时回复仍然有效
		log.Errorf("Callback: 处理 %s 事件出错, user: %s, error: %v", event.Kind(), event.Sender(), err)
	}
	if reply == "" {
		return
	}
	if err := h.replier.ReplyText(ctx, replyToken, reply); err != nil {
		log.Errorf("Callback: 回复用户 %s 失败: %v", event.Sender(), err)
	}
}

// toInboundEvent 把 SDK 的消息事件转换为内部事件；不支持的消息类型返回 false。
func toInboundEvent(e webhook.MessageEvent) (model.InboundEvent, bool) {
	userID := sourceUserID(e.Source)
	switch m := e.Message.(type) {
	case webhook.TextMessageContent:
		return model.TextEvent{UserID: userID, Text: m.Text}, true
	case webhook.StickerMessageContent:
		return model.StickerEvent{UserID: userID}, true
	case webhook.ImageMessageContent:
		return model.ImageEvent{UserID: userID}, true
	case webhook.VideoMessageContent:
		return model.VideoEvent{UserID: userID}, true
	case webhook.LocationMessageContent:
		return model.LocationEvent{
			UserID:    userID,
			Address:   m.Address,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		}, true
	default:
		return nil, false
	}
}

func sourceUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	default:
		return ""
	}
}
