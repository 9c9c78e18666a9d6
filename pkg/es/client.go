// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"line-gemini-relay/internal/config"
	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/log"
)

const indexMapping = `{
	"mappings": {
		"properties": {
			"id":        { "type": "integer" },
			"user_id":   { "type": "keyword" },
			"question":  { "type": "text" },
			"answer":    { "type": "text" },
			"timestamp": { "type": "keyword" }
		}
	}
}`

// ConversationIndex 是对话记录在 Elasticsearch 中的镜像索引。
type ConversationIndex struct {
	client *elasticsearch.Client
	name   string
}

// NewConversationIndex 初始化 Elasticsearch 客户端，并在索引不存在时创建它。
func NewConversationIndex(esCfg config.ElasticsearchConfig) (*ConversationIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	idx := &ConversationIndex{client: client, name: esCfg.IndexName}
	if err := idx.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *ConversationIndex) createIndexIfNotExists() error {
	res, err := i.client.Indices.Exists([]string{i.name})
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.name)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = i.client.Indices.Create(
		i.name,
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", i.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.name, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.name)
	return nil
}

// Index 写入（或覆盖）一条对话记录，文档 ID 为记录 id。
func (i *ConversationIndex) Index(ctx context.Context, entry model.Conversation) error {
	docBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: strconv.Itoa(entry.ID),
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引对话到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index conversation")
	}
	return nil
}

// DeleteAll 删除索引中的全部文档，与清空日志保持一致。
func (i *ConversationIndex) DeleteAll(ctx context.Context) error {
	res, err := i.client.DeleteByQuery(
		[]string{i.name},
		strings.NewReader(`{"query":{"match_all":{}}}`),
		i.client.DeleteByQuery.WithContext(ctx),
		i.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("清空 Elasticsearch 索引出错: %s", res.String())
		return errors.New("failed to delete conversations from index")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source model.Conversation `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在问题和回答中全文检索，userID 非空时只返回该用户的记录。
func (i *ConversationIndex) Search(ctx context.Context, query, userID string, size int) ([]model.Conversation, error) {
	boolQuery := map[string]interface{}{
		"must": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"question", "answer"},
			},
		},
	}
	if userID != "" {
		boolQuery["filter"] = map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		}
	}
	esQuery := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search returned error: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	out := make([]model.Conversation, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}
	return out, nil
}
