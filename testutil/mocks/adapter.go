// Adapter 是 Provider Adapter 的测试模拟实现。
//
// 支持固定响应、按次编排（脚本）与错误注入场景。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/types"
)

// --- Adapter 结构 ---

// Step 描述脚本中的一步：该次调用返回的内容或错误。
// 脚本耗尽后最后一步会被重复使用。
type Step struct {
	Text  string
	Usage provider.Usage
	Err   error
	Delay time.Duration
}

// Call 记录单次调用
type Call struct {
	Request *provider.Request
	Err     error
	At      time.Time
}

// Adapter 是 provider.Adapter 的模拟实现
type Adapter struct {
	mu sync.Mutex

	// 响应配置
	text  string
	usage provider.Usage
	err   error
	delay time.Duration

	// 按次编排：非空时优先于固定配置
	script []Step

	// 自定义 Send 函数：非空时优先于一切配置
	sendFunc func(ctx context.Context, req *provider.Request) (*provider.Response, error)

	// 调用记录
	calls     []Call
	callCount int
}

// --- 构造函数和 Builder 方法 ---

// NewAdapter 创建新的 Adapter
func NewAdapter() *Adapter {
	return &Adapter{
		text: "mock response",
		usage: provider.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
}

// WithResponse 设置固定响应内容
func (m *Adapter) WithResponse(text string) *Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return m
}

// WithUsage 设置 Token 使用量与成本
func (m *Adapter) WithUsage(prompt, completion int, cost float64) *Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = provider.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Cost:             cost,
	}
	return m
}

// WithError 设置返回错误
func (m *Adapter) WithError(err error) *Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置每次调用前的延迟
func (m *Adapter) WithDelay(d time.Duration) *Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithScript 设置按次编排的响应脚本
func (m *Adapter) WithScript(steps ...Step) *Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = steps
	return m
}

// WithSendFunc 设置自定义 Send 函数
func (m *Adapter) WithSendFunc(fn func(ctx context.Context, req *provider.Request) (*provider.Response, error)) *Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
	return m
}

// --- Adapter 接口实现 ---

// Name 返回 Adapter 名称
func (m *Adapter) Name() string {
	return "mock"
}

// Send 生成响应。延迟期间监听 ctx 取消，使超时测试可控。
func (m *Adapter) Send(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount

	fn := m.sendFunc
	var step *Step
	if len(m.script) > 0 {
		idx := n - 1
		if idx >= len(m.script) {
			idx = len(m.script) - 1
		}
		s := m.script[idx]
		step = &s
	}
	delay := m.delay
	if step != nil && step.Delay > 0 {
		delay = step.Delay
	}
	presetErr := m.err
	text := m.text
	usage := m.usage
	m.mu.Unlock()

	if fn != nil {
		resp, err := fn(ctx, req)
		m.record(req, err)
		return resp, err
	}

	// 不持锁睡眠，保证并发调用互不阻塞
	if delay > 0 {
		select {
		case <-ctx.Done():
			m.record(req, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if step != nil {
		if step.Err != nil {
			m.record(req, step.Err)
			return nil, step.Err
		}
		text = step.Text
		usage = step.Usage
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
	} else if presetErr != nil {
		m.record(req, presetErr)
		return nil, presetErr
	}

	resp := &provider.Response{
		ID:           fmt.Sprintf("mock-%d", n),
		Model:        "mock-model",
		Text:         text,
		FinishReason: "stop",
		Usage:        usage,
	}
	m.record(req, nil)
	return resp, nil
}

func (m *Adapter) record(req *provider.Request, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Request: req, Err: err, At: time.Now()})
}

// --- 查询方法 ---

// Calls 获取所有调用记录
func (m *Adapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call{}, m.calls...)
}

// CallCount 获取调用次数
func (m *Adapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastCall 获取最后一次调用
func (m *Adapter) LastCall() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 重置所有状态
func (m *Adapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
	m.script = nil
}

// --- 预设 Adapter 工厂 ---

// NewSuccessAdapter 创建总是成功的 Adapter
func NewSuccessAdapter(text string) *Adapter {
	return NewAdapter().WithResponse(text)
}

// NewErrorAdapter 创建总是失败的 Adapter
func NewErrorAdapter(err error) *Adapter {
	return NewAdapter().WithError(err)
}

// NewFlakyAdapter 创建前 failures 次调用返回可重试故障、之后成功的 Adapter
func NewFlakyAdapter(failures int, text string) *Adapter {
	steps := make([]Step, 0, failures+1)
	for i := 0; i < failures; i++ {
		steps = append(steps, Step{Err: RetryableErr("mock transient failure")})
	}
	steps = append(steps, Step{
		Text: text,
		Usage: provider.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	})
	return NewAdapter().WithScript(steps...)
}

// RetryableErr 构造一个可重试的 Provider 故障
func RetryableErr(msg string) *types.Error {
	return types.NewError(types.ErrProviderUnavailable, msg).
		WithRetryable(true).
		WithHTTPStatus(503)
}

// FatalErr 构造一个不可重试的 Provider 故障
func FatalErr(msg string) *types.Error {
	return types.NewError(types.ErrProviderFatal, msg).
		WithHTTPStatus(400)
}
