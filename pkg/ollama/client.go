// Package ollama 提供了与 Ollama 推理服务器交互的客户端。
// 与单服务器客户端不同，每次调用都显式传入目标服务器的 base URL，
// 以支持在多台独立可达的服务器之间路由。
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options 控制生成行为，nil 字段不下发。
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// ModelInfo 描述服务器上的一个可用模型。
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// StreamStats 是流式生成结束时上游返回的统计信息。
type StreamStats struct {
	PromptEvalCount int
	EvalCount       int
}

// UnexpectedResponseError 表示服务器可达但返回了无法解析或非预期的响应。
// 健康监控据此将服务器标记为 error 而非 offline。
type UnexpectedResponseError struct {
	Reason string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response from server: %s", e.Reason)
}

// Client 定义了 Ollama 客户端的接口。
type Client interface {
	// ListModels 请求 /api/tags 获取模型清单，同时作为健康探测使用。
	ListModels(ctx context.Context, baseURL string) ([]ModelInfo, error)
	// Chat 发起一次非流式对话请求，返回完整回复文本。
	Chat(ctx context.Context, baseURL, model string, messages []Message, opts *Options) (string, error)
	// StreamChat 发起流式对话请求，对每个内容分块调用 onChunk；
	// onChunk 返回错误时中断流。正常结束后返回上游统计信息。
	StreamChat(ctx context.Context, baseURL, model string, messages []Message, opts *Options, onChunk func(content string) error) (*StreamStats, error)
}

type ollamaClient struct {
	client *http.Client
}

// NewClient 创建一个新的 Ollama 客户端。
// 不设置整体超时：流式生成可能长时间运行，超时控制交由调用方的 context。
func NewClient() Client {
	return &ollamaClient{
		client: &http.Client{},
	}
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels 请求服务器的模型清单。
func (c *ollamaClient) ListModels(ctx context.Context, baseURL string) ([]ModelInfo, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tags api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &UnexpectedResponseError{
			Reason: fmt.Sprintf("tags api returned %s: %s", resp.Status, truncate(string(bodyBytes), 200)),
		}
	}

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &UnexpectedResponseError{Reason: fmt.Sprintf("invalid tags payload: %v", err)}
	}
	return parsed.Models, nil
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// Chat 发起一次非流式对话请求。
func (c *ollamaClient) Chat(ctx context.Context, baseURL, model string, messages []Message, opts *Options) (string, error) {
	resp, err := c.doChat(ctx, baseURL, model, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatChunk
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("chat api returned error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

// StreamChat 发起流式对话请求，逐行解析 NDJSON 分块。
func (c *ollamaClient) StreamChat(ctx context.Context, baseURL, model string, messages []Message, opts *Options, onChunk func(content string) error) (*StreamStats, error) {
	resp, err := c.doChat(ctx, baseURL, model, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	stats := &StreamStats{}
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var chunk chatChunk
			if jerr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jerr == nil {
				if chunk.Error != "" {
					return nil, fmt.Errorf("chat api returned error: %s", chunk.Error)
				}
				if chunk.Message.Content != "" {
					if cerr := onChunk(chunk.Message.Content); cerr != nil {
						return nil, cerr
					}
				}
				if chunk.Done {
					stats.PromptEvalCount = chunk.PromptEvalCount
					stats.EvalCount = chunk.EvalCount
					return stats, nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				// 上游未发送 done 分块就关闭了连接
				return nil, fmt.Errorf("stream closed before completion: %w", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}
	}
}

// doChat 构造并发送 /api/chat 请求。
func (c *ollamaClient) doChat(ctx context.Context, baseURL, model string, messages []Message, opts *Options, stream bool) (*http.Response, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}
	if opts != nil {
		options := map[string]interface{}{}
		if opts.Temperature != nil {
			options["temperature"] = *opts.Temperature
		}
		if opts.MaxTokens != nil {
			options["num_predict"] = *opts.MaxTokens
		}
		if len(options) > 0 {
			reqBody.Options = options
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, truncate(string(bodyBytes), 200))
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
