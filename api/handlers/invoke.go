package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/llmflow/api"
	"github.com/BaSui01/llmflow/budget"
	"github.com/BaSui01/llmflow/envelope"
	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 调用接口 Handler
// =============================================================================

// Invoker 是调用处理器面向的最小调用面, 由根包的 Client 实现。
type Invoker interface {
	// Invoke 经受管信封执行一次调用, 返回终态化的调用记录。
	Invoke(ctx context.Context, req *provider.Request, opts ...envelope.CallOption) (*envelope.CallRecord, error)

	// OpenScope 在 ctx 上打开一个预算作用域。
	OpenScope(ctx context.Context, opts ...budget.Option) (context.Context, *budget.Scope)
}

// InvokeHandler 受管 LLM 调用处理器
type InvokeHandler struct {
	client Invoker
	logger *zap.Logger
}

// NewInvokeHandler 创建调用处理器
func NewInvokeHandler(client Invoker, logger *zap.Logger) *InvokeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvokeHandler{
		client: client,
		logger: logger,
	}
}

// HandleInvoke 处理受管调用请求
// @Summary 执行受管 LLM 调用
// @Description 经准入、重试、预算与日志层执行一次 LLM 调用
// @Tags 调用
// @Accept json
// @Produce json
// @Param request body api.InvokeRequest true "调用请求"
// @Success 200 {object} Response{data=api.InvokeResponse} "调用结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 402 {object} Response "预算超限"
// @Failure 429 {object} Response "准入等待超时"
// @Failure 502 {object} Response "尝试耗尽"
// @Security ApiKeyAuth
// @Router /api/v1/invoke [post]
func (h *InvokeHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}

	// 验证 Content-Type
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	// 解码请求
	var req api.InvokeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// 验证请求
	if err := h.validateInvokeRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	preq := &provider.Request{
		Endpoint:    req.Endpoint,
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}

	opts := h.callOptions(&req)

	// 请求级预算上限通过一个一次性作用域生效
	ctx := r.Context()
	if req.BudgetCap > 0 {
		var scope *budget.Scope
		ctx, scope = h.client.OpenScope(ctx, budget.Cap(req.BudgetCap))
		defer scope.Close()
	}

	start := time.Now()
	rec, err := h.client.Invoke(ctx, preq, opts...)
	duration := time.Since(start)

	if err != nil {
		h.handleInvokeError(w, rec, err)
		return
	}

	h.logger.Info("invoke completed",
		zap.String("call_id", rec.ID),
		zap.String("endpoint", rec.Endpoint),
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("attempts", len(rec.Attempts)),
		zap.Float64("cost", rec.Cost),
		zap.Duration("duration", duration),
	)

	WriteSuccess(w, toInvokeResponse(rec))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// validateInvokeRequest 验证调用请求
func (h *InvokeHandler) validateInvokeRequest(req *api.InvokeRequest) *types.Error {
	if req.Endpoint == "" {
		return types.NewError(types.ErrInvalidRequest, "endpoint is required")
	}

	if req.Prompt == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt is required")
	}

	// 验证温度参数
	if req.Temperature < 0 || req.Temperature > 2 {
		return types.NewError(types.ErrInvalidRequest, "temperature must be between 0 and 2")
	}

	if req.MaxTokens < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_tokens must be non-negative")
	}

	if req.BudgetCap < 0 {
		return types.NewError(types.ErrInvalidRequest, "budget_cap must be non-negative")
	}

	if req.MaxAttempts < 0 {
		return types.NewError(types.ErrInvalidRequest, "max_attempts must be non-negative")
	}

	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return types.NewError(types.ErrInvalidRequest, "timeout must be a positive duration like 30s")
		}
	}

	return nil
}

// callOptions 把请求级覆盖翻译成信封调用选项
func (h *InvokeHandler) callOptions(req *api.InvokeRequest) []envelope.CallOption {
	var opts []envelope.CallOption

	if req.MaxAttempts > 0 {
		opts = append(opts, envelope.WithMaxAttempts(req.MaxAttempts))
	}

	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil && d > 0 {
			opts = append(opts, envelope.WithAttemptTimeout(d))
		}
	}

	if req.SkipCache {
		opts = append(opts, envelope.WithoutCache())
	}

	return opts
}

// handleInvokeError 处理调用错误。计费后才发现超限的调用带着已付费的
// 响应文本, 此时 Data 与 Error 一同下发, 调用方自行决定是否采用。
func (h *InvokeHandler) handleInvokeError(w http.ResponseWriter, rec *envelope.CallRecord, err error) {
	var terr *types.Error
	if !errors.As(err, &terr) {
		terr = types.NewError(types.ErrInternal, "invoke failed").
			WithCause(err).
			WithRetryable(false)
	}

	status := terr.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(terr.Code)
	}

	h.logger.Warn("invoke failed",
		zap.String("code", string(terr.Code)),
		zap.String("message", terr.Message),
		zap.Int("status", status),
		zap.Bool("retryable", terr.Retryable),
	)

	resp := Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(terr.Code),
			Message:    terr.Message,
			Retryable:  terr.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
	}

	if rec != nil && rec.Text != "" {
		resp.Data = toInvokeResponse(rec)
	}

	WriteJSON(w, status, resp)
}

// toInvokeResponse 把终态化的调用记录转成 API 响应
func toInvokeResponse(rec *envelope.CallRecord) api.InvokeResponse {
	return api.InvokeResponse{
		CallID:   rec.ID,
		Endpoint: rec.Endpoint,
		Model:    rec.Model,
		Text:     rec.Text,
		Outcome:  string(rec.Outcome),
		Attempts: len(rec.Attempts),
		Cached:   rec.Outcome == envelope.OutcomeCached,
		Usage: api.UsageInfo{
			PromptTokens:     rec.PromptTokens,
			CompletionTokens: rec.CompletionTokens,
			TotalTokens:      rec.TotalTokens,
			Cost:             rec.Cost,
		},
		DurationMS: rec.Duration().Milliseconds(),
	}
}
