package provider

import (
	"time"

	"github.com/BaSui01/llmflow/types"
)

// BackoffConfig 控制可重试失败之间的指数退避。
// 延迟序列为 Base * Multiplier^(attempt-1), 封顶于 Max,
// Jitter 开启时叠加 ±25% 随机抖动以错开并发重试。
type BackoffConfig struct {
	Base       time.Duration `yaml:"base" json:"base"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
	Max        time.Duration `yaml:"max" json:"max"`
	Jitter     bool          `yaml:"jitter" json:"jitter"`
}

// EndpointConfig 是一个端点的全部静态配置。
// 构造时一次性提供, 运行期不热更新。
type EndpointConfig struct {
	// ID 是端点在本进程内的唯一名字, 也是限流与指标的维度。
	ID string `yaml:"id" json:"id"`

	// 适配器连接参数。
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`

	// 限流窗口: Period 内最多 RequestsPerPeriod 次请求、
	// TokensPerPeriod 个 token。<= 0 表示该维度不限。
	RequestsPerPeriod int           `yaml:"requests_per_period" json:"requests_per_period"`
	TokensPerPeriod   int           `yaml:"tokens_per_period" json:"tokens_per_period"`
	Period            time.Duration `yaml:"period" json:"period"`

	// AdmissionTimeout 限制等待限流准入的时长, 0 表示只受 ctx 约束。
	AdmissionTimeout time.Duration `yaml:"admission_timeout" json:"admission_timeout"`

	// 单次尝试超时与总尝试数。
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`

	Backoff BackoffConfig `yaml:"backoff" json:"backoff"`

	// 每 1K token 的美元价格, 适配器用它推导 Usage.Cost。
	// 两者都为 0 时适配器不报成本。
	PromptPricePer1K     float64 `yaml:"prompt_price_per_1k" json:"prompt_price_per_1k"`
	CompletionPricePer1K float64 `yaml:"completion_price_per_1k" json:"completion_price_per_1k"`
}

// Normalize 填充零值字段的默认值。
func (c *EndpointConfig) Normalize() {
	if c.Period <= 0 {
		c.Period = time.Minute
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 30 * time.Second
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = 2.0
	}
}

// Validate 检查配置自洽性, 违反时返回 INVALID_CONFIG。
func (c *EndpointConfig) Validate() error {
	if c.ID == "" {
		return types.NewError(types.ErrInvalidConfig, "endpoint id is required")
	}
	if c.RequestsPerPeriod < 0 || c.TokensPerPeriod < 0 {
		return types.Errorf(types.ErrInvalidConfig,
			"endpoint %s: negative ceilings (requests=%d tokens=%d)",
			c.ID, c.RequestsPerPeriod, c.TokensPerPeriod)
	}
	if c.PromptPricePer1K < 0 || c.CompletionPricePer1K < 0 {
		return types.Errorf(types.ErrInvalidConfig, "endpoint %s: negative prices", c.ID)
	}
	if c.AdmissionTimeout < 0 || c.AttemptTimeout < 0 || c.Period < 0 {
		return types.Errorf(types.ErrInvalidConfig, "endpoint %s: negative durations", c.ID)
	}
	return nil
}

// CostOf 按端点价格推导给定用量的美元成本。
func (c *EndpointConfig) CostOf(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*c.PromptPricePer1K +
		float64(completionTokens)/1000*c.CompletionPricePer1K
}
