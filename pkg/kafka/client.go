// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"line-gemini-relay/internal/config"
	"line-gemini-relay/pkg/log"
	"line-gemini-relay/pkg/tasks"
)

const (
	// maxAttempts 是同一条消息处理失败后提交 offset 前的最大尝试次数。
	maxAttempts = 3
	// eventKey 让所有事件落在同一分区，保持 appended/cleared 的顺序。
	eventKey = "conversation-log"
	// batchTimeout 限制 Publish 在 webhook 回复前的等待时间。
	batchTimeout = 10 * time.Millisecond
)

// TaskProcessor 处理一条对话事件，使消费者与具体的索引实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, event tasks.ConversationEvent) error
}

// Producer 把对话事件写入 Kafka 主题，实现 service.EventPublisher。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers(cfg)...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           batchTimeout,
			AllowAutoTopicCreation: true,
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// Publish 发送一个对话事件到 Kafka。
func (p *Producer) Publish(ctx context.Context, event tasks.ConversationEvent) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func newMessage(event tasks.ConversationEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(eventKey), Value: value}, nil
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中消费循环用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理对话事件，ctx 取消时返回。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, processor)
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
			} else {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		var event tasks.ConversationEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			err = processor.Process(ctx, event)
			if err == nil {
				break
			}
			log.Errorf("处理对话事件失败: type=%s, offset=%d, attempt=%d, error: %v", event.Type, m.Offset, attempt, err)
			if ctx.Err() != nil {
				return
			}
		}
		if err != nil {
			log.Errorf("对话事件多次失败(>=%d)，提交 offset 终止重试: offset=%d", maxAttempts, m.Offset)
		}
		commit(ctx, r, m)
	}
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
