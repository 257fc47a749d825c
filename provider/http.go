// =============================================================================
// LLMFlow OpenAI-Compatible HTTP Adapter
// =============================================================================
// Reference Adapter implementation for any endpoint speaking the OpenAI
// chat-completions dialect (OpenAI, DeepSeek, Qwen, local gateways, ...).
// Handles request shaping, status classification and usage extraction;
// retry, admission and budgeting live in the envelope around it.
// =============================================================================

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/types"
)

const defaultChatPath = "/v1/chat/completions"

// HTTPAdapter 通过 OpenAI 兼容 API 发送请求。
type HTTPAdapter struct {
	cfg          EndpointConfig
	path         string
	client       *http.Client
	logger       *zap.Logger
	buildHeaders func(*http.Request, string)
}

// NewHTTPAdapter 按端点配置构建适配器。
func NewHTTPAdapter(cfg EndpointConfig, logger *zap.Logger) (*HTTPAdapter, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, types.Errorf(types.ErrInvalidConfig, "endpoint %s: base_url is required", cfg.ID)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAdapter{
		cfg:    cfg,
		path:   defaultChatPath,
		client: newSecureClient(cfg.AttemptTimeout),
		logger: logger.With(zap.String("component", "provider"), zap.String("endpoint", cfg.ID)),
	}, nil
}

// SetPath 覆盖 chat completions 路径 (某些网关使用 /api/chat 等变体)。
func (a *HTTPAdapter) SetPath(path string) { a.path = path }

// SetBuildHeaders 覆盖默认的 Bearer 认证 header 构建。
func (a *HTTPAdapter) SetBuildHeaders(fn func(*http.Request, string)) { a.buildHeaders = fn }

// Name 返回端点 ID。
func (a *HTTPAdapter) Name() string { return a.cfg.ID }

// 线上格式 (unexported, 只在本适配器内使用)。
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// Send 实现 Adapter。
func (a *HTTPAdapter) Send(ctx context.Context, req *Request) (*Response, error) {
	body := chatRequest{
		Model:       a.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + a.path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	a.applyHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// 传输层失败 (连接拒绝、DNS、超时): 保留原始错误链,
		// 让上层仍能用 errors.Is 识别 ctx 超时。
		return nil, types.NewError(types.ErrProviderUnavailable, "request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithEndpoint(a.cfg.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		a.logger.Debug("upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return nil, mapStatus(resp.StatusCode, msg, a.cfg.ID)
	}

	var oa chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "decode response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithEndpoint(a.cfg.ID)
	}
	if len(oa.Choices) == 0 {
		return nil, types.NewError(types.ErrProviderUnavailable, "response carries no choices").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithEndpoint(a.cfg.ID)
	}

	out := &Response{
		ID:           oa.ID,
		Model:        oa.Model,
		Text:         oa.Choices[0].Message.Content,
		FinishReason: oa.Choices[0].FinishReason,
	}
	if oa.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
			Cost:             a.cfg.CostOf(oa.Usage.PromptTokens, oa.Usage.CompletionTokens),
		}
	}
	return out, nil
}

func (a *HTTPAdapter) applyHeaders(req *http.Request) {
	if a.buildHeaders != nil {
		a.buildHeaders(req, a.cfg.APIKey)
		return
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// mapStatus 将 HTTP 状态码映射为带重试标记的统一错误。
func mapStatus(status int, msg, endpoint string) *types.Error {
	build := func(code types.ErrorCode, retryable bool) *types.Error {
		return types.NewError(code, msg).
			WithHTTPStatus(status).
			WithRetryable(retryable).
			WithEndpoint(endpoint)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return build(types.ErrUnauthorized, false)
	case http.StatusTooManyRequests:
		return build(types.ErrRateLimited, true)
	case http.StatusBadRequest:
		// 部分服务商把配额耗尽也报成 400, 按关键字细分。
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") ||
			strings.Contains(lower, "credit") ||
			strings.Contains(lower, "billing") ||
			strings.Contains(lower, "balance") {
			return build(types.ErrQuotaExceeded, false)
		}
		return build(types.ErrInvalidRequest, false)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return build(types.ErrProviderUnavailable, true)
	case 529: // model overloaded, used by some providers
		return build(types.ErrProviderUnavailable, true)
	default:
		if status >= 500 {
			return build(types.ErrProviderUnavailable, true)
		}
		return build(types.ErrProviderFatal, false)
	}
}

// readErrorMessage 提取响应体中的错误消息,
// 优先解析 JSON 错误结构, 失败则回退原始文本。
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// newSecureClient 返回 TLS 1.2+ 加固的 HTTP 客户端。
// timeout 只是兜底; 每次尝试的真正截止由调用方的 ctx 控制。
func newSecureClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
