package provider

import (
	"context"
)

// Request 是一次模型调用的输入。Endpoint 指向配置中的端点条目,
// 模型与连接参数由端点配置决定, 请求本身只携带内容与采样参数。
type Request struct {
	Endpoint    string  `json:"endpoint"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Usage 是单次调用消耗的 token 数与美元成本。
// Cost 由适配器按端点价格推导; 无价格配置时为 0, 由上层回退估算。
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Response 是一次成功调用的输出。
type Response struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Adapter 是服务商适配接口。实现必须并发安全:
// 同一个适配器实例会被多个并发调用共享。
//
// Send 的失败通过 *types.Error 分类: Retryable 标记决定封套是否重试。
// 非 *types.Error 的错误视为瞬态故障, 默认可重试。
type Adapter interface {
	// Send 发起一次同步调用, 返回完整响应。
	// 取消与超时通过 ctx 传入, 实现不得忽略。
	Send(ctx context.Context, req *Request) (*Response, error)

	// Name 返回适配器的唯一标识, 用于日志与指标。
	Name() string
}
