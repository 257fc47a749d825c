package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/budget"
	"github.com/BaSui01/llmflow/envelope"
	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/ratelimit"
	"github.com/BaSui01/llmflow/testutil/mocks"
)

var _ envelope.Cache = (*ResponseCache)(nil)

// =============================================================================
// 🧪 ResponseCache 测试
// =============================================================================

func setupTestCache(t *testing.T) (*miniredis.Miniredis, *ResponseCache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cache, err := New(Config{
		Addr: mr.Addr(),
		TTL:  time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	return mr, cache
}

func sampleResponse(text string) *provider.Response {
	return &provider.Response{
		Model: "test-model",
		Text:  text,
		Usage: provider.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
			Cost:             0.002,
		},
	}
}

func TestNew_ConnectionError(t *testing.T) {
	cache, err := New(Config{Addr: "localhost:1"}, zap.NewNop())
	assert.Nil(t, cache)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestSetAndGet(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	cache.Set(ctx, "k1", sampleResponse("hello"))

	got, ok := cache.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, 30, got.Usage.TotalTokens)
	assert.InDelta(t, 0.002, got.Usage.Cost, 1e-9)

	// 不同的键未命中。
	_, ok = cache.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestGet_KeyPrefixIsolation(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k1", sampleResponse("hello"))

	// 实际键带默认前缀。
	assert.True(t, mr.Exists("llmflow:resp:k1"))
	assert.False(t, mr.Exists("k1"))
}

func TestGet_CorruptPayloadDegradesToMiss(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	require.NoError(t, mr.Set("llmflow:resp:bad", "{not json"))

	_, ok := cache.Get(ctx, "bad")
	assert.False(t, ok)

	// 损坏负载顺手清除。
	assert.False(t, mr.Exists("llmflow:resp:bad"))
}

func TestSet_TTLApplied(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k1", sampleResponse("hello"))

	assert.Equal(t, time.Minute, mr.TTL("llmflow:resp:k1"))

	// 快进时间, 条目过期。
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k1", sampleResponse("one"))
	cache.Set(ctx, "k2", sampleResponse("two"))

	require.NoError(t, cache.Delete(ctx, "k1"))

	_, ok := cache.Get(ctx, "k1")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "k2")
	assert.True(t, ok)

	// 空键列表是无操作。
	assert.NoError(t, cache.Delete(ctx))
}

func TestClosedCacheDegrades(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()

	require.NoError(t, cache.Close())
	assert.NoError(t, cache.Close(), "double close is a no-op")

	ctx := context.Background()

	// 关闭后读写降级, 不恐慌不报错。
	_, ok := cache.Get(ctx, "k1")
	assert.False(t, ok)
	cache.Set(ctx, "k1", sampleResponse("late"))

	assert.Error(t, cache.Delete(ctx, "k1"))
	assert.Error(t, cache.Ping(ctx))
}

func TestPing(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	assert.NoError(t, cache.Ping(context.Background()))
}

// 封套挂上响应缓存后, 第二次相同调用直接命中, 不再打到适配器。
func TestEnvelopeIntegration(t *testing.T) {
	mr, cache := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	adapter := mocks.NewAdapter().WithUsage(10, 20, 0.002)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Endpoint:          "chat",
		RequestsPerPeriod: 10,
		Period:            time.Hour,
	}, zap.NewNop())
	ledger := budget.NewLedger(zap.NewNop())

	cfg := provider.EndpointConfig{
		ID:                "chat",
		Model:             "test-model",
		RequestsPerPeriod: 10,
		Period:            time.Hour,
		AttemptTimeout:    time.Second,
		MaxAttempts:       2,
		Backoff: provider.BackoffConfig{
			Base:       time.Millisecond,
			Multiplier: 2.0,
			Max:        2 * time.Millisecond,
		},
	}

	e, err := envelope.New(cfg, adapter, limiter, ledger, envelope.WithCache(cache))
	require.NoError(t, err)

	ctx := context.Background()
	req := &provider.Request{Prompt: "hello"}

	first, err := e.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, envelope.OutcomeSuccess, first.Outcome)

	second, err := e.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, envelope.OutcomeCached, second.Outcome)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, adapter.CallCount(), "cache hit never reaches the adapter")
}
