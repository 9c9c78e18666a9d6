// Package feed 把对话事件实时推送给 websocket 客户端。
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"line-gemini-relay/pkg/log"
	"line-gemini-relay/pkg/tasks"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Hub 维护已连接的客户端，实现 service.EventPublisher。
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub 创建一个空的 Hub。
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish 把事件编码为 JSON 文本帧广播给所有客户端；发送队列已满的客户端会被断开。
func (h *Hub) Publish(ctx context.Context, event tasks.ConversationEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warnf("websocket 客户端 %s 发送队列已满，断开连接", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
	return nil
}

// Serve 注册连接并阻塞，直到客户端断开。
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Infof("websocket 客户端已连接: %s", conn.RemoteAddr())

	go h.writeLoop(c)

	// 只读取控制帧，读到错误说明连接已关闭
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	log.Infof("websocket 客户端已断开: %s", conn.RemoteAddr())
}

// Len 返回当前连接数。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有客户端。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Warnf("websocket 写入失败: %v", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
