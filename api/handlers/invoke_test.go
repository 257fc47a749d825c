package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/api"
	"github.com/BaSui01/llmflow/budget"
	"github.com/BaSui01/llmflow/envelope"
	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/types"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// mockInvoker 模拟根包 Client 的调用面
type mockInvoker struct {
	ledger *budget.Ledger

	rec *envelope.CallRecord
	err error

	gotReq   *provider.Request
	gotOpts  int
	sawScope bool
	scopeCap float64
}

func (m *mockInvoker) Invoke(ctx context.Context, req *provider.Request, opts ...envelope.CallOption) (*envelope.CallRecord, error) {
	m.gotReq = req
	m.gotOpts = len(opts)
	if s, ok := budget.FromContext(ctx); ok {
		m.sawScope = true
		if c, capped := s.Cap(); capped {
			m.scopeCap = c
		}
	}
	return m.rec, m.err
}

func (m *mockInvoker) OpenScope(ctx context.Context, opts ...budget.Option) (context.Context, *budget.Scope) {
	return m.ledger.Open(ctx, opts...)
}

// successRecord 构造一条终态化的成功记录
func successRecord() *envelope.CallRecord {
	now := time.Now()
	return &envelope.CallRecord{
		ID:               "call-123",
		Endpoint:         "chat",
		Model:            "gpt-4o-mini",
		Text:             "The capital of France is Paris.",
		Outcome:          envelope.OutcomeSuccess,
		Attempts:         []envelope.Attempt{{Number: 1, Outcome: envelope.OutcomeSuccess}},
		PromptTokens:     12,
		CompletionTokens: 8,
		TotalTokens:      20,
		Cost:             0.004,
		StartedAt:        now.Add(-120 * time.Millisecond),
		FinishedAt:       now,
	}
}

// postInvoke 发送一个调用请求
func postInvoke(t *testing.T, h *InvokeHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleInvoke(w, req)
	return w
}

// decodeInvokeData 把信封 Data 解码成调用响应
func decodeInvokeData(t *testing.T, resp Response) api.InvokeResponse {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out api.InvokeResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// =============================================================================
// 🧪 InvokeHandler 测试
// =============================================================================

func TestInvokeHandler_Success(t *testing.T) {
	mock := &mockInvoker{ledger: budget.NewLedger(nil), rec: successRecord()}
	h := NewInvokeHandler(mock, zap.NewNop())

	body := `{"endpoint":"chat","prompt":"What is the capital of France?","system":"Answer briefly.","max_tokens":64,"temperature":0.7}`
	w := postInvoke(t, h, body)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)

	data := decodeInvokeData(t, resp)
	assert.Equal(t, "call-123", data.CallID)
	assert.Equal(t, "chat", data.Endpoint)
	assert.Equal(t, "gpt-4o-mini", data.Model)
	assert.Equal(t, "The capital of France is Paris.", data.Text)
	assert.Equal(t, "success", data.Outcome)
	assert.Equal(t, 1, data.Attempts)
	assert.False(t, data.Cached)
	assert.Equal(t, 20, data.Usage.TotalTokens)
	assert.InDelta(t, 0.004, data.Usage.Cost, 1e-9)
	assert.GreaterOrEqual(t, data.DurationMS, int64(0))

	// 请求被原样传递
	require.NotNil(t, mock.gotReq)
	assert.Equal(t, "chat", mock.gotReq.Endpoint)
	assert.Equal(t, "What is the capital of France?", mock.gotReq.Prompt)
	assert.Equal(t, "Answer briefly.", mock.gotReq.System)
	assert.Equal(t, 64, mock.gotReq.MaxTokens)
	assert.InDelta(t, 0.7, float64(mock.gotReq.Temperature), 1e-6)
}

func TestInvokeHandler_MethodNotAllowed(t *testing.T) {
	mock := &mockInvoker{ledger: budget.NewLedger(nil), rec: successRecord()}
	h := NewInvokeHandler(mock, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoke", nil)
	w := httptest.NewRecorder()
	h.HandleInvoke(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestInvokeHandler_BadContentType(t *testing.T) {
	mock := &mockInvoker{ledger: budget.NewLedger(nil), rec: successRecord()}
	h := NewInvokeHandler(mock, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoke", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandleInvoke(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvokeHandler_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing endpoint", `{"prompt":"hi"}`},
		{"missing prompt", `{"endpoint":"chat"}`},
		{"temperature too high", `{"endpoint":"chat","prompt":"hi","temperature":3}`},
		{"temperature negative", `{"endpoint":"chat","prompt":"hi","temperature":-0.1}`},
		{"negative max_tokens", `{"endpoint":"chat","prompt":"hi","max_tokens":-1}`},
		{"negative budget_cap", `{"endpoint":"chat","prompt":"hi","budget_cap":-0.5}`},
		{"negative max_attempts", `{"endpoint":"chat","prompt":"hi","max_attempts":-2}`},
		{"unparseable timeout", `{"endpoint":"chat","prompt":"hi","timeout":"abc"}`},
		{"negative timeout", `{"endpoint":"chat","prompt":"hi","timeout":"-5s"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockInvoker{ledger: budget.NewLedger(nil), rec: successRecord()}
			h := NewInvokeHandler(mock, zap.NewNop())

			w := postInvoke(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)

			// 非法请求不应该触发调用
			assert.Nil(t, mock.gotReq)
		})
	}
}

func TestInvokeHandler_CallOptionsForwarded(t *testing.T) {
	mock := &mockInvoker{ledger: budget.NewLedger(nil), rec: successRecord()}
	h := NewInvokeHandler(mock, zap.NewNop())

	body := `{"endpoint":"chat","prompt":"hi","max_attempts":5,"timeout":"10s","skip_cache":true}`
	w := postInvoke(t, h, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, mock.gotOpts, "max_attempts, timeout and skip_cache should each become a call option")
}

func TestInvokeHandler_BudgetCapOpensScope(t *testing.T) {
	ledger := budget.NewLedger(nil)
	mock := &mockInvoker{ledger: ledger, rec: successRecord()}
	h := NewInvokeHandler(mock, zap.NewNop())

	body := `{"endpoint":"chat","prompt":"hi","budget_cap":0.5}`
	w := postInvoke(t, h, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.sawScope, "invoke should run under the request scope")
	assert.InDelta(t, 0.5, mock.scopeCap, 1e-9)

	// 请求结束后一次性作用域已关闭
	scopes := ledger.Snapshot()
	require.Len(t, scopes, 1)
	assert.True(t, scopes[0].Closed)
	assert.InDelta(t, 0.5, scopes[0].Cap, 1e-9)
}

func TestInvokeHandler_NoBudgetCapNoScope(t *testing.T) {
	ledger := budget.NewLedger(nil)
	mock := &mockInvoker{ledger: ledger, rec: successRecord()}
	h := NewInvokeHandler(mock, zap.NewNop())

	w := postInvoke(t, h, `{"endpoint":"chat","prompt":"hi"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, mock.sawScope)
	assert.Empty(t, ledger.Snapshot())
}

func TestInvokeHandler_ErrorMapping(t *testing.T) {
	rec := successRecord()
	rec.Text = ""
	rec.Outcome = envelope.OutcomeRateLimited

	mock := &mockInvoker{
		ledger: budget.NewLedger(nil),
		rec:    rec,
		err: types.NewError(types.ErrAdmissionTimeout, "admission wait exceeded deadline").
			WithRetryable(true),
	}
	h := NewInvokeHandler(mock, zap.NewNop())

	w := postInvoke(t, h, `{"endpoint":"chat","prompt":"hi"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrAdmissionTimeout), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Nil(t, resp.Data, "no paid-for text, no data")
}

func TestInvokeHandler_BudgetExceededKeepsText(t *testing.T) {
	// 计费后才发现超限: 钱已花出, 文本保留
	rec := successRecord()
	rec.Outcome = envelope.OutcomeBudgetExceeded

	mock := &mockInvoker{
		ledger: budget.NewLedger(nil),
		rec:    rec,
		err:    types.NewError(types.ErrBudgetExceeded, "charge pushed scope over cap"),
	}
	h := NewInvokeHandler(mock, zap.NewNop())

	w := postInvoke(t, h, `{"endpoint":"chat","prompt":"hi"}`)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrBudgetExceeded), resp.Error.Code)

	require.NotNil(t, resp.Data, "paid-for text should ride along with the error")
	data := decodeInvokeData(t, resp)
	assert.Equal(t, "The capital of France is Paris.", data.Text)
	assert.Equal(t, "budget_exceeded", data.Outcome)
}

func TestInvokeHandler_NonTypedErrorWrapped(t *testing.T) {
	mock := &mockInvoker{
		ledger: budget.NewLedger(nil),
		err:    errors.New("boom"),
	}
	h := NewInvokeHandler(mock, zap.NewNop())

	w := postInvoke(t, h, `{"endpoint":"chat","prompt":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternal), resp.Error.Code)
}

func TestToInvokeResponse_CachedOutcome(t *testing.T) {
	rec := successRecord()
	rec.Outcome = envelope.OutcomeCached
	rec.Attempts = nil

	out := toInvokeResponse(rec)

	assert.True(t, out.Cached)
	assert.Equal(t, "cached", out.Outcome)
	assert.Equal(t, 0, out.Attempts)
	assert.GreaterOrEqual(t, out.DurationMS, int64(0))
}
