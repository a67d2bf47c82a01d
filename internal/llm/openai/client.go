// Package openai 通过 OpenAI 兼容的 Chat Completions 接口实现 llm.Client。
package openai

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second

	// errorBodyLimit 限制错误响应读入内存的字节数。
	errorBodyLimit = 2048
)

const systemPrompt = "You extract parameters for blockchain actions from a conversation. " +
	"Respond with a single JSON object only, no prose. " +
	"Use null for values the conversation does not provide."

// Config 是客户端配置，除 APIKey 外均有默认值。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Models 按模型规模覆盖 Model。
	Models  map[llm.ModelClass]string
	Timeout time.Duration
}

// Client 实现 llm.Client。
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient 校验 API Key 并补齐默认值。
func NewClient(cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, xerrors.New(xerrors.CodeConfigurationFailure, "未提供 OpenAI API Key")
	}
	cfg.BaseURL = strings.TrimRight(cmp.Or(strings.TrimSpace(cfg.BaseURL), defaultBaseURL), "/")
	cfg.Model = cmp.Or(strings.TrimSpace(cfg.Model), defaultModel)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateObject 发送一次补全请求并把回复解析为 JSON 对象。
// 429 与 5xx 标记为可重试。
func (c *Client) GenerateObject(ctx context.Context, req llm.ObjectRequest) (map[string]any, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提示词不能为空")
	}
	content, err := c.complete(ctx, c.chatRequest(req))
	if err != nil {
		return nil, err
	}
	obj, err := llm.ParseObject(content)
	if err != nil {
		return nil, xerrors.Wrap(llm.CodeExtractionFailure, err, "OpenAI 输出无法解析")
	}
	return obj, nil
}

func (c *Client) chatRequest(req llm.ObjectRequest) chatRequest {
	format := responseFormat{Type: "json_object"}
	if len(req.Schema) > 0 {
		format = responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: cmp.Or(req.SchemaName, "object"), Schema: req.Schema},
		}
	}
	return chatRequest{
		Model: cmp.Or(strings.TrimSpace(c.cfg.Models[req.ModelClass]), c.cfg.Model),
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		ResponseFormat: format,
	}
}

// complete 返回第一个 choice 的文本内容。
func (c *Client) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return "", xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
			xerrors.WithRetryable(retryable),
		)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应中没有 choices")
	}
	msg := decoded.Choices[0].Message
	if msg.Refusal != "" {
		return "", xerrors.New(llm.CodeExtractionFailure, "OpenAI 拒绝了请求: "+msg.Refusal)
	}
	return msg.Content, nil
}
