// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"line-gemini-relay/internal/config"
	"line-gemini-relay/pkg/log"
)

// FailureCategory 描述生成失败的原因类别。
type FailureCategory string

const (
	CategoryQuota   FailureCategory = "quota"
	CategoryGeneric FailureCategory = "generic"
)

// Failure 是一次失败生成的结构化描述。
type Failure struct {
	Category FailureCategory
	Message  string
}

// Result 要么携带生成的文本，要么携带 Failure。
type Result struct {
	Text    string
	Failure *Failure
}

// Failed 报告这次生成是否失败。
func (r Result) Failed() bool {
	return r.Failure != nil
}

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 以单轮 user 消息调用模型，不携带任何历史上下文。
	Generate(ctx context.Context, prompt string) Result
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a client for an OpenAI-compatible chat completions endpoint
// (Gemini exposes one under /v1beta/openai).
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate calls the chat completions API once and returns the first choice.
func (c *openAICompatibleClient) Generate(ctx context.Context, prompt string) Result {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	// 从配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return failure(CategoryGeneric, fmt.Sprintf("failed to marshal chat request: %v", err))
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return failure(CategoryGeneric, fmt.Sprintf("failed to create chat request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return failure(CategoryGeneric, fmt.Sprintf("failed to call chat api: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
		return failure(classify(resp.StatusCode, string(bodyBytes)), msg)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return failure(CategoryGeneric, fmt.Sprintf("failed to decode chat response: %v", err))
	}
	log.Infow("[LLMClient] 模型调用完成", "model", c.cfg.Model, "latency", time.Since(start).String(), "choices", len(chatResp.Choices))
	if len(chatResp.Choices) == 0 {
		return Result{}
	}
	return Result{Text: chatResp.Choices[0].Message.Content}
}

// classify 把 HTTP 429 或提及配额的错误归为 CategoryQuota。
func classify(status int, body string) FailureCategory {
	if status == http.StatusTooManyRequests {
		return CategoryQuota
	}
	lower := strings.ToLower(body)
	if strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted") {
		return CategoryQuota
	}
	return CategoryGeneric
}

func failure(category FailureCategory, msg string) Result {
	return Result{Failure: &Failure{Category: category, Message: msg}}
}
