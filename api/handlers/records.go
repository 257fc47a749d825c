package handlers

import (
	"net/http"
	"strconv"

	"github.com/BaSui01/llmflow/api"
	"github.com/BaSui01/llmflow/journal"
	"github.com/BaSui01/llmflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📜 调用记录 Handler
// =============================================================================

const (
	defaultRecordsLimit = 20
	maxRecordsLimit     = 500
)

// RecordsHandler 调用记录查询处理器
type RecordsHandler struct {
	store  *journal.Store
	logger *zap.Logger
}

// NewRecordsHandler 创建调用记录处理器。store 为 nil 时所有查询返回 503。
func NewRecordsHandler(store *journal.Store, logger *zap.Logger) *RecordsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordsHandler{
		store:  store,
		logger: logger,
	}
}

// HandleRecords 处理调用记录查询请求
// @Summary 查询调用记录
// @Description 返回最近终态化的调用记录, 新的在前
// @Tags 记录
// @Produce json
// @Param limit query int false "返回的最大记录数" default(20) maximum(500)
// @Success 200 {object} Response{data=api.RecordsResponse} "调用记录"
// @Failure 503 {object} Response "日志存储未启用"
// @Security ApiKeyAuth
// @Router /api/v1/records [get]
func (h *RecordsHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}

	if h.store == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrInvalidConfig,
			"call journal is disabled", h.logger)
		return
	}

	limit := defaultRecordsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"limit must be a positive integer", h.logger)
			return
		}
		if l > maxRecordsLimit {
			l = maxRecordsLimit
		}
		limit = l
	}

	rows, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load call records", zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternal,
			"failed to load call records", h.logger)
		return
	}

	records := make([]api.CallRecordView, len(rows))
	for i := range rows {
		records[i] = toRecordView(&rows[i])
	}

	WriteSuccess(w, api.RecordsResponse{
		Count:   len(records),
		Records: records,
	})
}

// toRecordView 把持久化记录转成 API 视图
func toRecordView(row *journal.Record) api.CallRecordView {
	return api.CallRecordView{
		CallID:           row.CallID,
		Endpoint:         row.Endpoint,
		Model:            row.Model,
		Outcome:          row.Outcome,
		Attempts:         row.AttemptCount,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		TotalTokens:      row.TotalTokens,
		Cost:             row.Cost,
		ScopeChain:       row.Scopes(),
		StartedAt:        row.StartedAt,
		FinishedAt:       row.FinishedAt,
		DurationMS:       row.DurationMS,
	}
}
