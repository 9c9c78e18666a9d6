// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"line-gemini-relay/internal/config"
	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/log"
)

// Archiver 在清空历史之前把快照上传到 MinIO，实现 service.Archiver。
type Archiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewArchiver 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewArchiver(ctx context.Context, cfg config.MinIOConfig) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}

	return &Archiver{client: client, bucket: cfg.BucketName, now: time.Now}, nil
}

// Archive 把全部记录以 JSON 数组写入 history/history-YYYYMMDD-HHMMSS.json。
func (a *Archiver) Archive(ctx context.Context, entries []model.Conversation) error {
	body, err := encodeSnapshot(entries)
	if err != nil {
		return err
	}
	objectName := ObjectName(a.now())
	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("上传归档 %s 失败: %w", objectName, err)
	}
	log.Infof("已归档 %d 条历史对话到 %s/%s", len(entries), a.bucket, objectName)
	return nil
}

// ObjectName 返回某一时刻的归档对象名。
func ObjectName(t time.Time) string {
	return "history/history-" + t.Format("20060102-150405") + ".json"
}

func encodeSnapshot(entries []model.Conversation) ([]byte, error) {
	if entries == nil {
		entries = []model.Conversation{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("序列化归档失败: %w", err)
	}
	return buf.Bytes(), nil
}
