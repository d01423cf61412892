// Package llm 负责与上游补全服务的交互
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"techcare-server/internal/config"
)

// ChatMessage 发往补全服务的单条消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeltaFunc 增量文本回调
// delta 为本帧的增量，accumulated 为到目前为止累积的完整文本
type DeltaFunc func(delta, accumulated string)

// ErrEmptyBody 上游返回了 2xx 但没有响应体
var ErrEmptyBody = errors.New("completion service returned empty body")

// Client 补全服务的 HTTP 客户端
// 以流式方式调用 chat completions 接口
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	timeout time.Duration
}

// NewClient 创建 Client 实例
// 参数:
//   - cfg: 补全服务配置（地址、凭据、模型、超时）
//
// 返回:
//   - *Client: 客户端实例
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		// 流式读取的耗时由请求级超时控制，客户端本身不设超时
		client: &http.Client{},
	}
}

// chatRequest 补全请求体
type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// errorBody 非 2xx 响应的可选 JSON 错误体
type errorBody struct {
	Error string `json:"error"`
}

// StreamChat 以流式方式请求补全
// 发送完整消息历史，增量文本通过 onDelta 逐帧回调，
// 返回值为最终累积的完整文本。
// 返回错误的情况：请求失败、非 2xx 状态、响应体缺失、
// 流读取错误、单帧超过缓冲区上限。
// 参数:
//   - ctx: 上下文，携带取消信号
//   - messages: 完整消息历史（含刚加入的用户消息）
//   - onDelta: 增量回调，可以为 nil
//
// 返回:
//   - string: 最终累积的助手文本
//   - error: 调用错误
func (c *Client) StreamChat(ctx context.Context, messages []ChatMessage, onDelta DeltaFunc) (string, error) {
	// 请求级超时：挂起的连接不会无限占用发送周期
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call completion service: %w", err)
	}
	defer resp.Body.Close()

	// 非 2xx：尽量取出 JSON 错误体里最具体的信息
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			return "", errors.New(eb.Error)
		}
		return "", fmt.Errorf("completion service returned status %d", resp.StatusCode)
	}

	if resp.Body == nil {
		return "", ErrEmptyBody
	}

	// 逐块读取并解码
	decoder := NewStreamDecoder()
	var accumulated strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			deltas, feedErr := decoder.Feed(buf[:n])
			if feedErr != nil {
				return "", feedErr
			}
			for _, delta := range deltas {
				accumulated.WriteString(delta)
				if onDelta != nil {
					onDelta(delta, accumulated.String())
				}
			}
			if decoder.Done() {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read stream: %w", readErr)
		}
	}

	return decoder.Content(), nil
}
