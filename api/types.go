package api

import (
	"time"
)

// =============================================================================
// 调用类型
// =============================================================================

// InvokeRequest 表示一次受管 LLM 调用请求。
// @Description LLM 调用请求结构
type InvokeRequest struct {
	// 目标端点名
	Endpoint string `json:"endpoint" example:"chat" binding:"required"`
	// 用户提示词
	Prompt string `json:"prompt" example:"Summarize the attached report." binding:"required"`
	// 系统提示词（可选）
	System string `json:"system,omitempty" example:"You are a concise assistant."`
	// 生成的最大 token 数
	MaxTokens int `json:"max_tokens,omitempty" example:"1024"`
	// 采样温度（0-2）
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// 本次调用的美元预算上限，0 表示继承进程预算
	BudgetCap float64 `json:"budget_cap,omitempty" example:"0.5"`
	// 单次尝试超时时长
	Timeout string `json:"timeout,omitempty" example:"30s"`
	// 最大尝试数覆盖
	MaxAttempts int `json:"max_attempts,omitempty" example:"3"`
	// 跳过响应缓存
	SkipCache bool `json:"skip_cache,omitempty"`
}

// InvokeResponse 表示调用的终态结果。
// @Description LLM 调用响应结构
type InvokeResponse struct {
	// 调用 ID
	CallID string `json:"call_id" example:"7b0d3f2a-1c9e-4f60-9f7e-2d1a1d4c9f00"`
	// 处理调用的端点
	Endpoint string `json:"endpoint" example:"chat"`
	// 使用的模型
	Model string `json:"model" example:"gpt-4o-mini"`
	// 响应文本
	Text string `json:"text"`
	// 终态（success、cached、exhausted…）
	Outcome string `json:"outcome" example:"success"`
	// 消耗的尝试数
	Attempts int `json:"attempts" example:"1"`
	// 是否命中缓存
	Cached bool `json:"cached,omitempty"`
	// token 与成本统计
	Usage UsageInfo `json:"usage"`
	// 调用时长（毫秒）
	DurationMS int64 `json:"duration_ms" example:"1240"`
}

// UsageInfo 表示单次调用的用量统计。
// @Description token 使用与成本统计
type UsageInfo struct {
	// 提示 token 数
	PromptTokens int `json:"prompt_tokens" example:"100"`
	// 补全 token 数
	CompletionTokens int `json:"completion_tokens" example:"50"`
	// token 总数
	TotalTokens int `json:"total_tokens" example:"150"`
	// 美元成本
	Cost float64 `json:"cost" example:"0.0021"`
}

// =============================================================================
// 用量与记录类型
// =============================================================================

// EndpointUsage 表示单个端点的聚合用量。
// @Description 端点聚合用量结构
type EndpointUsage struct {
	// 端点名
	Endpoint string `json:"endpoint" example:"chat"`
	// 调用总数
	Calls int64 `json:"calls" example:"42"`
	// 成功调用数
	Succeeded int64 `json:"succeeded" example:"40"`
	// token 总数
	TotalTokens int64 `json:"total_tokens" example:"61500"`
	// 美元总成本
	TotalCost float64 `json:"total_cost" example:"0.92"`
	// 平均调用时长（毫秒）
	AvgDurationMS float64 `json:"avg_duration_ms" example:"980.5"`
}

// UsageResponse 表示用量查询结果。
// @Description 用量查询响应结构
type UsageResponse struct {
	// 本进程账本的当前花费
	RunCost float64 `json:"run_cost" example:"1.37"`
	// 聚合起点，零值表示全部历史
	Since time.Time `json:"since,omitempty"`
	// 各端点聚合，花钱多的排前面
	Endpoints []EndpointUsage `json:"endpoints"`
}

// CallRecordView 表示一条终态化调用记录的对外视图。
// @Description 调用记录视图结构
type CallRecordView struct {
	// 调用 ID
	CallID string `json:"call_id"`
	// 端点名
	Endpoint string `json:"endpoint" example:"chat"`
	// 模型名
	Model string `json:"model" example:"gpt-4o-mini"`
	// 终态
	Outcome string `json:"outcome" example:"success"`
	// 消耗的尝试数
	Attempts int `json:"attempts" example:"1"`
	// 提示 token 数
	PromptTokens int `json:"prompt_tokens"`
	// 补全 token 数
	CompletionTokens int `json:"completion_tokens"`
	// token 总数
	TotalTokens int `json:"total_tokens"`
	// 美元成本
	Cost float64 `json:"cost"`
	// 打开的预算作用域链，最内层在前
	ScopeChain []string `json:"scope_chain,omitempty"`
	// 调用开始时间
	StartedAt time.Time `json:"started_at"`
	// 终态化时间
	FinishedAt time.Time `json:"finished_at"`
	// 调用时长（毫秒）
	DurationMS int64 `json:"duration_ms"`
}

// RecordsResponse 表示调用记录查询结果。
// @Description 调用记录查询响应结构
type RecordsResponse struct {
	// 返回的记录数
	Count int `json:"count" example:"20"`
	// 记录列表，新的在前
	Records []CallRecordView `json:"records"`
}

// CallEvent 表示事件流上的一条终态化调用事件。
// @Description WebSocket 调用事件结构
type CallEvent struct {
	// 事件类型，目前恒为 call_record
	Type string `json:"type" example:"call_record"`
	// 终态化的调用记录
	Record CallRecordView `json:"record"`
	// 事件产生时间
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// 健康与版本类型
// =============================================================================

// HealthResponse 表示健康检查结果。
// @Description 健康检查响应结构
type HealthResponse struct {
	// 整体状态（healthy、degraded、unhealthy）
	Status string `json:"status" example:"healthy"`
	// 服务版本
	Version string `json:"version" example:"1.2.0"`
	// 进程运行时长
	Uptime string `json:"uptime" example:"3h24m11s"`
	// 各依赖的检查结果
	Checks map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus 表示单个依赖的健康状态。
// @Description 依赖健康状态结构
type CheckStatus struct {
	// 状态（healthy、unhealthy）
	Status string `json:"status" example:"healthy"`
	// 检查耗时（毫秒）
	LatencyMS int64 `json:"latency_ms" example:"4"`
	// 失败原因
	Error string `json:"error,omitempty"`
}

// VersionResponse 表示版本信息。
// @Description 版本信息响应结构
type VersionResponse struct {
	// 服务版本
	Version string `json:"version" example:"1.2.0"`
	// Go 运行时版本
	GoVersion string `json:"go_version" example:"go1.24.0"`
	// 目标操作系统
	OS string `json:"os" example:"linux"`
	// 目标架构
	Arch string `json:"arch" example:"amd64"`
}

// =============================================================================
// 统一响应封套
// =============================================================================

// Response 是所有 HTTP 接口共用的响应封套。
// @Description 统一 API 响应结构
type Response struct {
	// 请求是否成功
	Success bool `json:"success" example:"true"`
	// 业务负载，成功时填充
	Data interface{} `json:"data,omitempty"`
	// 错误信息，失败时填充
	Error *ErrorInfo `json:"error,omitempty"`
	// 响应时间戳
	Timestamp time.Time `json:"timestamp"`
	// 请求 ID，用于跨日志关联
	RequestID string `json:"request_id,omitempty"`
}

// ErrorInfo 是封套内的错误描述。
// @Description API 错误信息结构
type ErrorInfo struct {
	// 错误码（types.ErrorCode 的字符串值）
	Code string `json:"code" example:"RATE_LIMITED"`
	// 人类可读的错误消息
	Message string `json:"message" example:"admission wait exceeded deadline"`
	// 补充细节
	Details string `json:"details,omitempty"`
	// 是否可重试
	Retryable bool `json:"retryable,omitempty"`
	// HTTP 状态码，仅服务端内部使用
	HTTPStatus int `json:"-"`
}
