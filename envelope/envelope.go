package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/budget"
	"github.com/BaSui01/llmflow/internal/metrics"
	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/ratelimit"
	"github.com/BaSui01/llmflow/tokenizer"
	"github.com/BaSui01/llmflow/types"
)

const instrumentationName = "github.com/BaSui01/llmflow/envelope"

// Cache 是响应缓存的最小接口。命中的调用不经过准入与计费。
// 实现必须可并发调用; 两个方法都不得因缓存故障阻塞调用主路径。
type Cache interface {
	Get(ctx context.Context, key string) (*provider.Response, bool)
	Set(ctx context.Context, key string, resp *provider.Response)
}

// Sink 接收终态化的调用记录。实现必须可并发调用;
// 写入失败只记日志, 不影响调用结果。
type Sink interface {
	Append(ctx context.Context, rec *CallRecord) error
}

// Envelope 是一个端点的调用封套。实例并发安全, 每个端点一个。
type Envelope struct {
	cfg     provider.EndpointConfig
	adapter provider.Adapter
	limiter *ratelimit.Limiter
	ledger  *budget.Ledger

	tok       tokenizer.Tokenizer
	logger    *zap.Logger
	collector *metrics.Collector
	cache     Cache
	sinks     []Sink
	tracer    trace.Tracer
	inst      *instruments
}

// Option 配置 Envelope 的可选依赖。
type Option func(*Envelope)

// WithLogger 注入日志器。
func WithLogger(logger *zap.Logger) Option {
	return func(e *Envelope) { e.logger = logger }
}

// WithTokenizer 覆盖默认的 token 估算器。
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(e *Envelope) { e.tok = tok }
}

// WithMetrics 注入指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Envelope) { e.collector = c }
}

// WithCache 注入响应缓存。
func WithCache(c Cache) Option {
	return func(e *Envelope) { e.cache = c }
}

// WithSink 追加一个记录接收器, 可多次使用。
func WithSink(s Sink) Option {
	return func(e *Envelope) { e.sinks = append(e.sinks, s) }
}

// New 创建端点的调用封套。cfg 会先被 Normalize 再校验。
func New(cfg provider.EndpointConfig, adapter provider.Adapter, limiter *ratelimit.Limiter, ledger *budget.Ledger, opts ...Option) (*Envelope, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, types.Errorf(types.ErrInvalidConfig, "endpoint %s: adapter is required", cfg.ID)
	}
	if limiter == nil {
		return nil, types.Errorf(types.ErrInvalidConfig, "endpoint %s: limiter is required", cfg.ID)
	}
	if ledger == nil {
		return nil, types.Errorf(types.ErrInvalidConfig, "endpoint %s: ledger is required", cfg.ID)
	}

	e := &Envelope{
		cfg:     cfg,
		adapter: adapter,
		limiter: limiter,
		ledger:  ledger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(
		zap.String("component", "envelope"),
		zap.String("endpoint", cfg.ID))
	if e.tok == nil {
		e.tok = tokenizer.ForModelOrEstimator(cfg.Model)
	}
	e.tracer = otel.Tracer(instrumentationName)
	inst, err := newInstruments()
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "register call instruments").WithCause(err)
	}
	e.inst = inst
	return e, nil
}

// callOptions 是单次调用的覆盖项。
type callOptions struct {
	maxAttempts    int
	attemptTimeout time.Duration
	skipCache      bool
}

// CallOption 覆盖单次调用的行为。
type CallOption func(*callOptions)

// WithMaxAttempts 覆盖本次调用的最大尝试数。
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithAttemptTimeout 覆盖本次调用的单次尝试超时。
func WithAttemptTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithoutCache 跳过本次调用的缓存读写。
func WithoutCache() CallOption {
	return func(o *callOptions) { o.skipCache = true }
}

// Execute 运行一次逻辑调用: 预检 → 估算 → 缓存 → 准入 → 发送 →
// 分类重试 → 校正 → 计费 → 终态化。返回的 CallRecord 在任何出口都
// 非 nil 且已终态化 (入参非法除外); 计费后发现超限时, 响应文本保留在
// 记录里与错误一同返回。
func (e *Envelope) Execute(ctx context.Context, req *provider.Request, opts ...CallOption) (*CallRecord, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil request").WithEndpoint(e.cfg.ID)
	}
	co := callOptions{
		maxAttempts:    e.cfg.MaxAttempts,
		attemptTimeout: e.cfg.AttemptTimeout,
	}
	for _, opt := range opts {
		opt(&co)
	}

	preq := *req
	if preq.Endpoint == "" {
		preq.Endpoint = e.cfg.ID
	}

	scope, _ := budget.FromContext(ctx)
	rec := &CallRecord{
		ID:        uuid.New().String(),
		Endpoint:  e.cfg.ID,
		Model:     e.cfg.Model,
		StartedAt: time.Now(),
	}
	if scope != nil {
		rec.ScopeChain = scope.Chain()
	}

	ctx, span := e.tracer.Start(ctx, "llmflow.invoke",
		trace.WithAttributes(
			attribute.String("llm.endpoint", e.cfg.ID),
			attribute.String("llm.model", e.cfg.Model)))
	defer span.End()
	e.inst.callStarted(ctx, e.cfg.ID, e.cfg.Model)

	// 预算预检: 已越限的作用域下不再发起新调用。
	if err := e.ledger.Precheck(scope); err != nil {
		if e.collector != nil {
			e.collector.RecordBudgetDenial("blocked")
		}
		terr := e.stamp(err, rec)
		e.finish(ctx, rec, span, OutcomeBudgetBlocked, terr)
		return rec, terr
	}

	rec.EstimatedTokens = e.estimate(&preq)

	key := ""
	if e.cache != nil && !co.skipCache {
		key = cacheKey(e.cfg.ID, e.cfg.Model, preq.System, preq.Prompt)
		if resp, ok := e.cache.Get(ctx, key); ok && resp != nil {
			if e.collector != nil {
				e.collector.RecordCacheHit(e.cfg.ID)
			}
			rec.Text = resp.Text
			e.finish(ctx, rec, span, OutcomeCached, nil)
			return rec, nil
		}
		if e.collector != nil {
			e.collector.RecordCacheMiss(e.cfg.ID)
		}
	}

	var attemptErrs []error
	for attempt := 1; attempt <= co.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(e.cfg.Backoff, attempt-1)
			e.logger.Debug("retrying after backoff",
				zap.String("call_id", rec.ID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(attemptErrs[len(attemptErrs)-1]))
			if err := sleep(ctx, delay); err != nil {
				terr := e.stamp(mapInterrupt(err, "backoff"), rec)
				e.finish(ctx, rec, span, interruptOutcome(terr), terr)
				return rec, terr
			}
		}

		if err := e.admit(ctx, rec); err != nil {
			terr := e.stamp(err, rec)
			var outcome Outcome
			switch types.GetErrorCode(terr) {
			case types.ErrAdmissionTimeout:
				outcome = OutcomeRateLimited
			case types.ErrCallCanceled:
				outcome = OutcomeCanceled
			default:
				outcome = OutcomeFatal
			}
			e.finish(ctx, rec, span, outcome, terr)
			return rec, terr
		}

		resp, at, aerr := e.attemptOnce(ctx, &preq, co.attemptTimeout, attempt)
		rec.Attempts = append(rec.Attempts, at)
		if e.collector != nil {
			e.collector.RecordAttempt(e.cfg.ID, string(at.Outcome), at.Duration)
		}

		if aerr == nil {
			return e.succeed(ctx, rec, span, scope, key, resp)
		}
		attemptErrs = append(attemptErrs, aerr)

		// 整体时限已尽或被取消: 不再有下一轮。
		if ctx.Err() != nil {
			terr := e.stamp(aerr, rec)
			e.finish(ctx, rec, span, interruptOutcome(terr), terr)
			return rec, terr
		}
		// 致命失败立即放弃, 剩余尝试不消耗。
		if !types.IsRetryable(aerr) {
			terr := e.stamp(aerr, rec)
			e.finish(ctx, rec, span, OutcomeFatal, terr)
			return rec, terr
		}
	}

	exhausted := types.Errorf(types.ErrCallExhausted, "all %d attempts failed", co.maxAttempts).
		WithCause(errors.Join(attemptErrs...)).
		WithRetryable(false)
	terr := e.stamp(exhausted, rec)
	e.finish(ctx, rec, span, OutcomeExhausted, terr)
	return rec, terr
}

// estimate 计算准入申报量: 提示词 token 加上回答余量。
func (e *Envelope) estimate(req *provider.Request) int {
	msgs := make([]tokenizer.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, tokenizer.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, tokenizer.Message{Role: "user", Content: req.Prompt})

	estimated, err := e.tok.CountMessages(msgs)
	if err != nil {
		// 计数器不可用时退化为字符启发, 调用不因估算失败而死。
		estimated = (len(req.System) + len(req.Prompt)) / 4
		e.logger.Warn("token estimate fell back to character heuristic", zap.Error(err))
	}
	if req.MaxTokens > 0 {
		estimated += req.MaxTokens
	}
	return estimated
}

// admit 等待限流准入并累计等待耗时。
func (e *Envelope) admit(ctx context.Context, rec *CallRecord) error {
	admitCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.AdmissionTimeout > 0 {
		admitCtx, cancel = context.WithTimeout(ctx, e.cfg.AdmissionTimeout)
		defer cancel()
	}

	start := time.Now()
	err := e.limiter.Admit(admitCtx, rec.EstimatedTokens)
	wait := time.Since(start)
	rec.AdmissionWait += wait
	if e.collector != nil {
		e.collector.RecordAdmissionWait(e.cfg.ID, wait, e.limiter.Snapshot().QueueLen)
	}
	return err
}

// attemptOnce 执行一次发送并分类结果。返回的错误已翻译为 types.Error:
// 单次尝试超时 → CALL_TIMEOUT (可重试), 整体终止 → CALL_TIMEOUT/
// CALL_CANCELED (不可重试), 提供方错误原样保留分类。
func (e *Envelope) attemptOnce(ctx context.Context, req *provider.Request, timeout time.Duration, number int) (*provider.Response, Attempt, error) {
	at := Attempt{Number: number, StartedAt: time.Now()}

	spanCtx, attemptSpan := e.tracer.Start(ctx, "llmflow.attempt",
		trace.WithAttributes(
			attribute.String("llm.endpoint", e.cfg.ID),
			attribute.Int("llm.attempt", number)))
	defer attemptSpan.End()

	attemptCtx, cancel := context.WithTimeout(spanCtx, timeout)
	resp, err := e.adapter.Send(attemptCtx, req)
	attemptDone := attemptCtx.Err()
	cancel()
	at.Duration = time.Since(at.StartedAt)

	if err == nil {
		at.Outcome = OutcomeSuccess
		return resp, at, nil
	}

	parentDone := ctx.Err()
	switch {
	case parentDone != nil:
		terr := mapInterrupt(parentDone, "attempt")
		if types.IsCode(terr, types.ErrCallTimeout) {
			at.Outcome = OutcomeTimeout
		} else {
			at.Outcome = OutcomeCanceled
		}
		err = terr.WithCause(err)
	case errors.Is(attemptDone, context.DeadlineExceeded):
		at.Outcome = OutcomeTimeout
		err = types.Errorf(types.ErrCallTimeout, "attempt %d did not settle within %s", number, timeout).
			WithCause(err).
			WithRetryable(true)
	case types.IsCode(err, types.ErrRateLimited):
		at.Outcome = OutcomeRateLimited
	case types.IsRetryable(err):
		at.Outcome = OutcomeRetryable
	default:
		at.Outcome = OutcomeFatal
	}

	at.Error = err.Error()
	attemptSpan.SetAttributes(
		attribute.String("llm.attempt_outcome", string(at.Outcome)),
		attribute.String("error.code", string(types.GetErrorCode(err))))
	return nil, at, err
}

// succeed 收尾成功路径: 校正限流窗口, 写缓存, 恰好一次计费, 终态化。
func (e *Envelope) succeed(ctx context.Context, rec *CallRecord, span trace.Span, scope *budget.Scope, key string, resp *provider.Response) (*CallRecord, error) {
	rec.Text = resp.Text
	rec.PromptTokens = resp.Usage.PromptTokens
	rec.CompletionTokens = resp.Usage.CompletionTokens
	rec.TotalTokens = resp.Usage.TotalTokens
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	}
	rec.Cost = resp.Usage.Cost

	e.limiter.Reconcile(rec.EstimatedTokens, rec.TotalTokens)

	if e.cache != nil && key != "" {
		e.cache.Set(ctx, key, resp)
	}

	if scope != nil && rec.Cost > 0 {
		if cerr := e.ledger.Charge(scope, rec.Cost); cerr != nil {
			terr := e.stamp(cerr, rec)
			outcome := OutcomeFatal
			if types.IsCode(terr, types.ErrBudgetExceeded) {
				outcome = OutcomeBudgetExceeded
				if e.collector != nil {
					e.collector.RecordBudgetDenial("detected")
				}
			}
			e.finish(ctx, rec, span, outcome, terr)
			return rec, terr
		}
	}

	e.finish(ctx, rec, span, OutcomeSuccess, nil)
	return rec, nil
}

// finish 终态化记录: span 属性、指标、落盘、日志。
func (e *Envelope) finish(ctx context.Context, rec *CallRecord, span trace.Span, outcome Outcome, err error) {
	rec.finalize(outcome)

	errCode := ""
	if err != nil {
		errCode = string(types.GetErrorCode(err))
	}

	span.SetAttributes(
		attribute.String("llm.outcome", string(outcome)),
		attribute.Int("llm.attempts", len(rec.Attempts)),
		attribute.Int("llm.tokens.total", rec.TotalTokens),
		attribute.Float64("llm.cost", rec.Cost))
	if errCode != "" {
		span.SetAttributes(attribute.String("error.code", errCode))
	}

	e.inst.callFinished(ctx, rec, errCode)

	if e.collector != nil {
		e.collector.RecordInvocation(e.cfg.ID, string(outcome), rec.Duration(),
			rec.PromptTokens, rec.CompletionTokens, rec.Cost)
	}

	// 终态记录不随调用一起被取消。
	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range e.sinks {
		start := time.Now()
		serr := sink.Append(sinkCtx, rec)
		if e.collector != nil {
			e.collector.RecordJournalWrite(time.Since(start), serr)
		}
		if serr != nil {
			e.logger.Warn("call record sink failed",
				zap.String("call_id", rec.ID),
				zap.Error(serr))
		}
	}

	e.logger.Debug("call finalized",
		zap.String("call_id", rec.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("attempts", len(rec.Attempts)),
		zap.Duration("duration", rec.Duration()),
		zap.Duration("admission_wait", rec.AdmissionWait),
		zap.Float64("cost", rec.Cost))
}

// stamp 给终态错误补上端点、已消耗尝试数与作用域链。
func (e *Envelope) stamp(err error, rec *CallRecord) error {
	var te *types.Error
	if errors.As(err, &te) {
		if te.Endpoint == "" {
			te.Endpoint = e.cfg.ID
		}
		te.Attempts = len(rec.Attempts)
		if te.Scopes == nil {
			te.Scopes = rec.ScopeChain
		}
		return te
	}
	return types.NewError(types.ErrInternal, "invocation failed").
		WithCause(err).
		WithEndpoint(e.cfg.ID).
		WithAttempts(len(rec.Attempts)).
		WithScopes(rec.ScopeChain)
}

// mapInterrupt 把 ctx 终止翻译为终态错误。
func mapInterrupt(err error, during string) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Errorf(types.ErrCallTimeout, "deadline elapsed during %s", during).WithCause(err)
	}
	return types.Errorf(types.ErrCallCanceled, "call canceled during %s", during).WithCause(err)
}

// interruptOutcome 把终态错误映射到记录终态。
func interruptOutcome(err error) Outcome {
	if types.IsCode(err, types.ErrCallTimeout) {
		return OutcomeTimeout
	}
	return OutcomeCanceled
}

// cacheKey 由端点、模型与提示词派生稳定键。
func cacheKey(endpoint, model, system, prompt string) string {
	h := sha256.New()
	for _, part := range []string{endpoint, model, system, prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
