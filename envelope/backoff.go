package envelope

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/llmflow/provider"
)

// backoffDelay 计算第 retry 次重试前的等待时长 (retry 从 1 开始)。
// 指数退避: Base * Multiplier^(retry-1), 封顶于 Max,
// Jitter 开启时叠加 ±25% 随机抖动, 错开并发重试。
func backoffDelay(cfg provider.BackoffConfig, retry int) time.Duration {
	delay := float64(cfg.Base) * math.Pow(cfg.Multiplier, float64(retry-1))
	if delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	if cfg.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// sleep 等待 d, 期间响应 ctx 终止。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
