package envelope

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments 持有调用路径上的 OTel 指标仪器, 与 Prometheus 收集器并行:
// 收集器服务 /metrics 抓取, 仪器经全局 MeterProvider 走 OTLP 上报。
// 未安装 SDK 时全部仪器为 noop。
type instruments struct {
	callTotal    metric.Int64Counter
	errorTotal   metric.Int64Counter
	tokenTotal   metric.Int64Counter
	callDuration metric.Float64Histogram
	callCost     metric.Float64Histogram
	activeCalls  metric.Int64UpDownCounter
}

// newInstruments 在全局 MeterProvider 上注册仪器。
func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	in := &instruments{}

	var err error

	in.callTotal, err = meter.Int64Counter("llmflow.call.total",
		metric.WithDescription("Total number of finalized calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	in.errorTotal, err = meter.Int64Counter("llmflow.call.error.total",
		metric.WithDescription("Total number of calls finalized with an error"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	in.tokenTotal, err = meter.Int64Counter("llmflow.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	in.callDuration, err = meter.Float64Histogram("llmflow.call.duration",
		metric.WithDescription("Logical call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	in.callCost, err = meter.Float64Histogram("llmflow.call.cost",
		metric.WithDescription("Cost per call in USD"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	if err != nil {
		return nil, err
	}

	in.activeCalls, err = meter.Int64UpDownCounter("llmflow.call.active",
		metric.WithDescription("Number of in-flight calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	return in, nil
}

// callStarted 标记一次调用进入封套。
func (in *instruments) callStarted(ctx context.Context, endpoint, model string) {
	in.activeCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("model", model)))
}

// callFinished 在终态化时记录全部仪器。errCode 为空表示成功出口。
func (in *instruments) callFinished(ctx context.Context, rec *CallRecord, errCode string) {
	common := metric.WithAttributes(
		attribute.String("endpoint", rec.Endpoint),
		attribute.String("model", rec.Model),
		attribute.String("outcome", string(rec.Outcome)))

	in.activeCalls.Add(ctx, -1, metric.WithAttributes(
		attribute.String("endpoint", rec.Endpoint),
		attribute.String("model", rec.Model)))

	in.callTotal.Add(ctx, 1, common)
	in.callDuration.Record(ctx, rec.Duration().Seconds(), common)

	if rec.TotalTokens > 0 {
		in.tokenTotal.Add(ctx, int64(rec.PromptTokens), metric.WithAttributes(
			attribute.String("endpoint", rec.Endpoint),
			attribute.String("type", "prompt")))
		in.tokenTotal.Add(ctx, int64(rec.CompletionTokens), metric.WithAttributes(
			attribute.String("endpoint", rec.Endpoint),
			attribute.String("type", "completion")))
	}
	if rec.Cost > 0 {
		in.callCost.Record(ctx, rec.Cost, common)
	}
	if errCode != "" {
		in.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", rec.Endpoint),
			attribute.String("error_code", errCode)))
	}
}
