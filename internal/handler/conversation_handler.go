// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/log"
)

// ClearedResult 是 DELETE /conversations/clear 成功时的 result 文本。
const ClearedResult = "历史对话已清空"

// ConversationHandler 处理对话日志的 REST 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetHistory 以 JSON 数组返回全部记录。
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.All())
}

// ClearHistory 清空全部记录。
func (h *ConversationHandler) ClearHistory(c *gin.Context) {
	if err := h.service.Clear(c.Request.Context()); err != nil {
		log.Error("ClearHistory: 清空历史对话失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": ClearedResult})
}
