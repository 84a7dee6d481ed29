// Package openaicompat 实现 OpenAI 兼容的 Chat Completions 上游
// （OpenAI、通义千问兼容模式、DeepSeek 等）。
package openaicompat

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

	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/llm"
)

// Config OpenAI 兼容上游配置
type Config struct {
	// ProviderName Provider 标识，例如 "qwen"
	ProviderName string
	APIKey       string
	// BaseURL 例如 https://dashscope.aliyuncs.com/compatible-mode
	BaseURL string
	// DefaultModel 请求未指定模型时使用
	DefaultModel string
	// Timeout HTTP 客户端超时，默认 60s。单次调用时限由调用方 ctx 控制。
	Timeout time.Duration
	// EndpointPath 默认 /v1/chat/completions
	EndpointPath string
}

// Provider OpenAI 兼容上游
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compatible"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.cfg.ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Completion implements llm.Provider.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	body := chatRequest{
		Model:       model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-ID", req.TraceID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var oa chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		if ctx.Err() != nil {
			return nil, p.transportError(ctx, err)
		}
		return nil, &llm.Error{
			Code: llm.ErrInvalidResponse, Message: "decode response: " + err.Error(),
			HTTPStatus: resp.StatusCode, Provider: p.Name(),
		}
	}

	out := &llm.ChatResponse{ID: oa.ID, Provider: p.Name(), Model: oa.Model}
	for _, c := range oa.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.Role(c.Message.Role), Content: c.Message.Content},
		})
	}
	if oa.Usage != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	if oa.Created != 0 {
		out.CreatedAt = time.Unix(oa.Created, 0)
	}
	return out, nil
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
}

// transportError 网络层错误：超时归为上游超时，其他归为可重试的上游错误
func (p *Provider) transportError(ctx context.Context, err error) *llm.Error {
	code := llm.ErrUpstreamError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		code = llm.ErrUpstreamTimeout
	}
	p.logger.Debug("upstream transport error", zap.String("code", string(code)), zap.Error(err))
	return &llm.Error{
		Code: code, Message: err.Error(),
		HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// MapHTTPError 将 HTTP 状态映射为上游错误：429/5xx 可重试，其余 4xx 不可重试
func MapHTTPError(status int, msg, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code, e.Retryable = llm.ErrRateLimited, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Code, e.Retryable = llm.ErrUpstreamTimeout, true
	case status == http.StatusServiceUnavailable || status == 529:
		e.Code, e.Retryable = llm.ErrModelOverloaded, true
	case status >= 500:
		e.Code, e.Retryable = llm.ErrUpstreamError, true
	case status == http.StatusBadRequest && containsAny(strings.ToLower(msg), "quota", "credit", "insufficient"):
		e.Code = llm.ErrQuotaExceeded
	default:
		e.Code = llm.ErrInvalidRequest
	}
	return e
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// readErrorMessage 读取上游错误体，优先取 {"error":{"message":...}}
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
