// Package line 封装 LINE Messaging API 的回复接口。
package line

import (
	"context"
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// MaxTextLength 是单条文本消息允许的最大字符数。
const MaxTextLength = 5000

// Replier 使用 reply token 回复一条文本消息。
type Replier interface {
	ReplyText(ctx context.Context, replyToken, text string) error
}

type client struct {
	api *messaging_api.MessagingApiAPI
}

// NewClient 创建一个使用 channel access token 的 Replier。
func NewClient(channelAccessToken string, opts ...messaging_api.MessagingApiAPIOption) (Replier, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelAccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE messaging client: %w", err)
	}
	return &client{api: api}, nil
}

// ReplyText 发送回复，超长文本会被截断。
func (c *client) ReplyText(ctx context.Context, replyToken, text string) error {
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: Truncate(text)},
		},
	})
	if err != nil {
		return fmt.Errorf("LINE reply failed: %w", err)
	}
	return nil
}

// Truncate 按字符截断到 MaxTextLength。
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxTextLength {
		return text
	}
	return string(runes[:MaxTextLength])
}
