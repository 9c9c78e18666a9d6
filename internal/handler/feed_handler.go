package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"line-gemini-relay/pkg/feed"
	"line-gemini-relay/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// FeedHandler 把对话事件通过 websocket 推送给客户端。
type FeedHandler struct {
	hub *feed.Hub
}

// NewFeedHandler 创建一个新的 FeedHandler。
func NewFeedHandler(hub *feed.Hub) *FeedHandler {
	return &FeedHandler{hub: hub}
}

// Stream 处理 GET /history/stream，升级为 websocket 后阻塞到连接关闭。
func (h *FeedHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	h.hub.Serve(conn)
}
