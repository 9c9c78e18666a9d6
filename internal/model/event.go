package model

// EventKind 标识入站聊天事件的类型。
type EventKind string

const (
	KindText     EventKind = "text"
	KindSticker  EventKind = "sticker"
	KindImage    EventKind = "image"
	KindVideo    EventKind = "video"
	KindLocation EventKind = "location"
)

// InboundEvent 是 webhook 解析后交给路由的消息事件。
// 具体类型只有下面几种，路由按类型 switch 分发。
type InboundEvent interface {
	Kind() EventKind
	Sender() string
}

// TextEvent 文本消息。
type TextEvent struct {
	UserID string
	Text   string
}

// StickerEvent 贴图消息。
type StickerEvent struct {
	UserID string
}

// ImageEvent 图片消息。
type ImageEvent struct {
	UserID string
}

// VideoEvent 影片消息。
type VideoEvent struct {
	UserID string
}

// LocationEvent 位置消息，Address 可能为空。
type LocationEvent struct {
	UserID    string
	Address   string
	Latitude  float64
	Longitude float64
}

func (e TextEvent) Kind() EventKind     { return KindText }
func (e StickerEvent) Kind() EventKind  { return KindSticker }
func (e ImageEvent) Kind() EventKind    { return KindImage }
func (e VideoEvent) Kind() EventKind    { return KindVideo }
func (e LocationEvent) Kind() EventKind { return KindLocation }

func (e TextEvent) Sender() string     { return e.UserID }
func (e StickerEvent) Sender() string  { return e.UserID }
func (e ImageEvent) Sender() string    { return e.UserID }
func (e VideoEvent) Sender() string    { return e.UserID }
func (e LocationEvent) Sender() string { return e.UserID }
