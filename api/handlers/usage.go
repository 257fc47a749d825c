package handlers

import (
	"net/http"
	"time"

	"github.com/BaSui01/llmflow/api"
	"github.com/BaSui01/llmflow/journal"
	"github.com/BaSui01/llmflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💰 用量统计 Handler
// =============================================================================

// UsageReporter 报告进程账本的当前花费, 由根包的 Client 实现。
type UsageReporter interface {
	Usage() float64
}

// UsageHandler 用量统计处理器
type UsageHandler struct {
	store    *journal.Store
	reporter UsageReporter
	logger   *zap.Logger
}

// NewUsageHandler 创建用量统计处理器。store 为 nil 时只报进程账本花费,
// 端点聚合为空。
func NewUsageHandler(store *journal.Store, reporter UsageReporter, logger *zap.Logger) *UsageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageHandler{
		store:    store,
		reporter: reporter,
		logger:   logger,
	}
}

// HandleUsage 处理用量查询请求
// @Summary 查询用量统计
// @Description 返回进程账本花费与按端点聚合的历史用量
// @Tags 用量
// @Produce json
// @Param since query string false "聚合起点, RFC3339 时间戳或相对时长 (24h 表示最近 24 小时)"
// @Success 200 {object} Response{data=api.UsageResponse} "用量统计"
// @Failure 400 {object} Response "无效的 since 参数"
// @Security ApiKeyAuth
// @Router /api/v1/usage [get]
func (h *UsageHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resp := api.UsageResponse{
		Since:     since,
		Endpoints: []api.EndpointUsage{},
	}

	if h.reporter != nil {
		resp.RunCost = h.reporter.Usage()
	}

	if h.store != nil {
		summaries, serr := h.store.SummarizeByEndpoint(r.Context(), since)
		if serr != nil {
			h.logger.Error("failed to summarize usage", zap.Error(serr))
			WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternal,
				"failed to summarize usage", h.logger)
			return
		}
		resp.Endpoints = toEndpointUsage(summaries)
	}

	WriteSuccess(w, resp)
}

// parseSince 解析聚合起点。空值表示全部历史; 支持 RFC3339 时间戳
// 或相对时长 (24h 表示最近 24 小时)。
func parseSince(raw string) (time.Time, *types.Error) {
	if raw == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}

	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}

	return time.Time{}, types.NewError(types.ErrInvalidRequest,
		"since must be an RFC3339 timestamp or a duration like 24h")
}

// toEndpointUsage 把日志层聚合转成 API 视图
func toEndpointUsage(summaries []journal.EndpointSummary) []api.EndpointUsage {
	out := make([]api.EndpointUsage, len(summaries))
	for i, s := range summaries {
		out[i] = api.EndpointUsage{
			Endpoint:      s.Endpoint,
			Calls:         s.Calls,
			Succeeded:     s.Succeeded,
			TotalTokens:   s.TotalTokens,
			TotalCost:     s.TotalCost,
			AvgDurationMS: s.AvgDurationMS,
		}
	}
	return out
}
