package envelope

import "time"

// Outcome 标记一次逻辑调用或单次尝试的终态。
type Outcome string

const (
	// OutcomeSuccess 调用成功, 用量与成本已记录。
	OutcomeSuccess Outcome = "success"
	// OutcomeTimeout 调用因时限耗尽而终止。
	OutcomeTimeout Outcome = "timeout"
	// OutcomeRateLimited 等待准入超时, 调用未发出。
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeFatal 致命失败, 剩余尝试未消耗。
	OutcomeFatal Outcome = "fatal"
	// OutcomeExhausted 全部尝试失败。
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeBudgetBlocked 预算预检拦截, 分文未花。
	OutcomeBudgetBlocked Outcome = "budget_blocked"
	// OutcomeBudgetExceeded 计费后发现超限, 钱已花出, 文本保留。
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	// OutcomeCanceled 调用方取消。
	OutcomeCanceled Outcome = "canceled"
	// OutcomeCached 缓存命中, 未经过准入与计费。
	OutcomeCached Outcome = "cached"
	// OutcomeRetryable 仅用于单次尝试: 瞬时失败, 将重试。
	OutcomeRetryable Outcome = "retryable"
)

// Attempt 记录一次发往提供方的具体尝试。
type Attempt struct {
	Number    int           `json:"number"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// CallRecord 是一次逻辑调用的完整履历。创建于调用开始,
// 在调用落定或尝试耗尽时恰好终态化一次。
type CallRecord struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Model    string `json:"model,omitempty"`

	// ScopeChain 是调用时打开的预算作用域链, 最内层在前。
	ScopeChain []string `json:"scope_chain,omitempty"`

	// EstimatedTokens 是准入时申报的估算量 (提示词 + 回答余量)。
	EstimatedTokens int `json:"estimated_tokens"`

	// 实际用量与成本, 调用完成前为零值。
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`

	Text     string    `json:"text,omitempty"`
	Outcome  Outcome   `json:"outcome"`
	Attempts []Attempt `json:"attempts,omitempty"`

	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	AdmissionWait time.Duration `json:"admission_wait,omitempty"`

	finalized bool
}

// Duration 返回调用的墙钟耗时; 未终态化时按当前时间计。
func (r *CallRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finalized 报告记录是否已终态化。
func (r *CallRecord) Finalized() bool {
	return r.finalized
}

// finalize 设置终态。重复调用是无操作, 第一个终态保持不变。
func (r *CallRecord) finalize(outcome Outcome) {
	if r.finalized {
		return
	}
	r.finalized = true
	r.Outcome = outcome
	r.FinishedAt = time.Now()
}
