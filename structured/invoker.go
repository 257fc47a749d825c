package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/types"
)

// Caller 执行一次底层文本补全并返回原始输出。传输层的重试、
// 限流与计费都发生在 Caller 内部; 本包只消费其终态结果。
type Caller interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// AttemptOutcome 是单次语义尝试的判定结果。
type AttemptOutcome string

const (
	// AttemptValid 表示负载解析成功且满足形状。
	AttemptValid AttemptOutcome = "valid"
	// AttemptParseFailed 表示输出里找不到可解析的 JSON 负载。
	AttemptParseFailed AttemptOutcome = "parse_failed"
	// AttemptShapeMismatch 表示负载合法但不满足形状约束。
	AttemptShapeMismatch AttemptOutcome = "shape_mismatch"
)

// Attempt 记录一次语义尝试: 实际发出的提示词(含累积的纠错注记)、
// 原始输出与判定。历史随结果一并返回, 供诊断与审计。
type Attempt struct {
	Index    int            `json:"index"`
	Prompt   string         `json:"prompt"`
	Raw      string         `json:"raw"`
	Outcome  AttemptOutcome `json:"outcome"`
	Mismatch string         `json:"mismatch,omitempty"`
}

// Invoker 驱动语义重试循环。实例并发安全, 可跨调用复用。
type Invoker struct {
	caller      Caller
	logger      *zap.Logger
	maxAttempts int
}

// InvokerOption 配置 Invoker。
type InvokerOption func(*Invoker)

// WithLogger 注入日志器。
func WithLogger(logger *zap.Logger) InvokerOption {
	return func(inv *Invoker) { inv.logger = logger }
}

// WithMaxAttempts 设置默认语义尝试数, 单次调用可覆盖。
func WithMaxAttempts(n int) InvokerOption {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxAttempts = n
		}
	}
}

// NewInvoker 创建语义重试循环。
func NewInvoker(caller Caller, opts ...InvokerOption) (*Invoker, error) {
	if caller == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "invoker: caller is required")
	}
	inv := &Invoker{
		caller:      caller,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.logger == nil {
		inv.logger = zap.NewNop()
	}
	return inv, nil
}

// invokeState 枚举语义循环的显式状态。
type invokeState int

const (
	stateDrafting invokeState = iota
	stateCalling
	stateParsing
	stateValidating
	stateSucceeded
	stateExhausted
)

// Invoke 运行类型化调用: 起草(提示词+格式说明) → 调用 → 提取解析 →
// 形状校验, 失败则携带上一次输出与具体问题重新起草。maxAttempts ≤ 0
// 时用 Invoker 默认值。每次语义尝试都是一次完整的底层调用, 传输层
// 重试由 Caller 自己消化, 与语义尝试数无关。
func (inv *Invoker) Invoke(ctx context.Context, prompt string, shape *Shape, maxAttempts int) (any, []Attempt, error) {
	if shape == nil {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "nil shape")
	}
	if maxAttempts <= 0 {
		maxAttempts = inv.maxAttempts
	}

	instructions := Describe(shape)

	var (
		attempts []Attempt
		notes    []string
		current  string
		raw      string
		payload  string
		value    any
	)

	// fail 记录失败尝试并决定循环去向。
	fail := func(outcome AttemptOutcome, mismatch string) invokeState {
		attempts = append(attempts, Attempt{
			Index:    len(attempts) + 1,
			Prompt:   current,
			Raw:      raw,
			Outcome:  outcome,
			Mismatch: mismatch,
		})
		inv.logger.Debug("semantic attempt failed",
			zap.Int("attempt", len(attempts)),
			zap.String("outcome", string(outcome)),
			zap.String("mismatch", mismatch))
		if len(attempts) >= maxAttempts {
			return stateExhausted
		}
		return stateDrafting
	}

	state := stateDrafting
	for {
		switch state {
		case stateDrafting:
			if len(attempts) > 0 {
				notes = append(notes, correctionNote(attempts[len(attempts)-1]))
			}
			current = draftPrompt(prompt, notes, instructions)
			state = stateCalling

		case stateCalling:
			text, err := inv.caller.Call(ctx, current)
			if err != nil {
				// 传输层终态错误原样上抛, 不消耗语义尝试。
				return nil, attempts, err
			}
			raw = text
			state = stateParsing

		case stateParsing:
			extracted, err := Extract(raw)
			if err != nil {
				state = fail(AttemptParseFailed, err.Error())
				continue
			}
			payload = extracted
			var parsed any
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				state = fail(AttemptParseFailed, fmt.Sprintf("not valid JSON: %v", err))
				continue
			}
			value = parsed
			state = stateValidating

		case stateValidating:
			if err := Validate(shape, value); err != nil {
				state = fail(AttemptShapeMismatch, err.Error())
				continue
			}
			attempts = append(attempts, Attempt{
				Index:   len(attempts) + 1,
				Prompt:  current,
				Raw:     raw,
				Outcome: AttemptValid,
			})
			state = stateSucceeded

		case stateSucceeded:
			return value, attempts, nil

		case stateExhausted:
			last := attempts[len(attempts)-1]
			return nil, attempts, types.Errorf(types.ErrTypeValidationExhausted,
				"no valid value after %d semantic attempts (last: %s)", maxAttempts, last.Mismatch).
				WithAttempts(len(attempts)).
				WithRetryable(false)
		}
	}
}

const booleanInstructions = "Answer with a single word: YES or NO."

// InvokeBoolean 发起 YES/NO 判定, 按末次出现解析。既无 YES 也无 NO
// 算形状不匹配, 消耗一次语义尝试。
func (inv *Invoker) InvokeBoolean(ctx context.Context, prompt string) (bool, []Attempt, error) {
	var (
		attempts []Attempt
		notes    []string
	)

	for len(attempts) < inv.maxAttempts {
		current := draftPrompt(prompt, notes, booleanInstructions)

		raw, err := inv.caller.Call(ctx, current)
		if err != nil {
			return false, attempts, err
		}

		verdict, exErr := ExtractBoolean(raw)
		if exErr == nil {
			attempts = append(attempts, Attempt{
				Index:   len(attempts) + 1,
				Prompt:  current,
				Raw:     raw,
				Outcome: AttemptValid,
			})
			return verdict, attempts, nil
		}

		attempts = append(attempts, Attempt{
			Index:    len(attempts) + 1,
			Prompt:   current,
			Raw:      raw,
			Outcome:  AttemptShapeMismatch,
			Mismatch: exErr.Error(),
		})
		inv.logger.Debug("boolean attempt failed",
			zap.Int("attempt", len(attempts)),
			zap.String("mismatch", exErr.Error()))
		notes = append(notes, correctionNote(attempts[len(attempts)-1]))
	}

	last := attempts[len(attempts)-1]
	return false, attempts, types.Errorf(types.ErrTypeValidationExhausted,
		"no YES/NO verdict after %d semantic attempts (last: %s)", inv.maxAttempts, last.Mismatch).
		WithAttempts(len(attempts)).
		WithRetryable(false)
}

// 纠错注记里回显的上一次输出上限, 防止提示词逐轮膨胀。
const maxEchoedOutput = 2000

// draftPrompt 组装一次尝试的完整提示词: 原始提示 + 累积纠错注记 +
// 格式说明。
func draftPrompt(base string, notes []string, instructions string) string {
	var sb strings.Builder
	sb.WriteString(base)
	for _, note := range notes {
		sb.WriteString("\n\n")
		sb.WriteString(note)
	}
	sb.WriteString("\n\n")
	sb.WriteString(instructions)
	return sb.String()
}

func correctionNote(prev Attempt) string {
	raw := prev.Raw
	if len(raw) > maxEchoedOutput {
		raw = raw[:maxEchoedOutput] + "..."
	}
	return fmt.Sprintf("Your answer on attempt %d was not usable.\nThat answer:\n%s\nProblem: %s\nCorrect the problem and answer again.",
		prev.Index, raw, prev.Mismatch)
}

// DecodeInto 把已校验的值经 JSON 往返解码进调用方结构体。
func DecodeInto(value any, target any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal validated value: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode into %T: %w", target, err)
	}
	return nil
}
