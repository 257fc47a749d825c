// =============================================================================
// Package llmflow — Resilient LLM Invocation
// =============================================================================
// Top-level entry point that assembles the full invocation stack: one
// admission limiter and call envelope per endpoint, a shared budget
// ledger, and optionally a response cache, a call journal and metrics.
//
// Usage:
//
//	import "github.com/BaSui01/llmflow"
//
//	client, err := llmflow.New(
//	    llmflow.WithEndpoint(cfg, adapter),
//	    llmflow.WithLogger(logger),
//	)
//	text, err := client.InvokeText(ctx, "chat", "Say hello.")
//
// Every call runs under a budget scope: caller-opened scopes nest via
// [Client.OpenScope], and calls whose context carries none are
// attributed to the client's run scope, so [Client.Usage] always
// reflects the whole run's spend.
// =============================================================================
package llmflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/budget"
	"github.com/BaSui01/llmflow/config"
	"github.com/BaSui01/llmflow/envelope"
	"github.com/BaSui01/llmflow/internal/metrics"
	"github.com/BaSui01/llmflow/journal"
	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/ratelimit"
	"github.com/BaSui01/llmflow/tokenizer"
	"github.com/BaSui01/llmflow/types"
)

// Option configures the client created by [New].
type Option func(*options)

type options struct {
	cfg       *config.Config
	endpoints []endpointSpec
	adapters  map[string]provider.Adapter

	logger    *zap.Logger
	tok       tokenizer.Tokenizer
	ledger    *budget.Ledger
	runCap    float64
	store     *journal.Store
	cache     envelope.Cache
	collector *metrics.Collector
	sinks     []envelope.Sink
}

type endpointSpec struct {
	cfg     provider.EndpointConfig
	adapter provider.Adapter
}

// WithEndpoint registers one endpoint with the adapter that serves it.
// A nil adapter falls back to a [provider.HTTPAdapter] built from the
// endpoint's connection fields.
func WithEndpoint(cfg provider.EndpointConfig, adapter provider.Adapter) Option {
	return func(o *options) {
		o.endpoints = append(o.endpoints, endpointSpec{cfg: cfg, adapter: adapter})
	}
}

// WithConfig merges every endpoint from a loaded configuration and
// adopts its budget.run_cap. Endpoints whose ID is empty take their map
// key. Adapters default to [provider.HTTPAdapter]; override per
// endpoint with [WithAdapter].
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithAdapter overrides the adapter for one endpoint declared via
// [WithConfig] or [WithEndpoint]. Naming an endpoint that is never
// declared fails [New].
func WithAdapter(endpoint string, adapter provider.Adapter) Option {
	return func(o *options) { o.adapters[endpoint] = adapter }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTokenizer overrides the admission token estimator for every
// endpoint. The default resolves per model from the tokenizer registry,
// with a character heuristic fallback.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(o *options) { o.tok = tok }
}

// WithLedger shares an existing budget ledger instead of creating one.
func WithLedger(ledger *budget.Ledger) Option {
	return func(o *options) { o.ledger = ledger }
}

// WithRunCap caps the client's run scope in dollars. Zero leaves the
// run unlimited. Takes precedence over the configuration's
// budget.run_cap.
func WithRunCap(amount float64) Option {
	return func(o *options) { o.runCap = amount }
}

// WithJournal appends the call journal as a record sink.
func WithJournal(store *journal.Store) Option {
	return func(o *options) { o.store = store }
}

// WithCache plugs in a response cache shared by all endpoints.
func WithCache(cache envelope.Cache) Option {
	return func(o *options) { o.cache = cache }
}

// WithMetrics injects the Prometheus collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) { o.collector = collector }
}

// WithSink appends an extra record sink; may be given more than once.
func WithSink(sink envelope.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sink) }
}

// New assembles a [Client]: one limiter and envelope per endpoint, all
// sharing one ledger, plus a freshly opened run scope. At least one
// endpoint must be declared via [WithEndpoint] or [WithConfig].
func New(opts ...Option) (*Client, error) {
	o := &options{adapters: make(map[string]provider.Adapter)}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	endpoints, adapters, err := o.assemble()
	if err != nil {
		return nil, err
	}

	ledger := o.ledger
	if ledger == nil {
		ledger = budget.NewLedger(o.logger)
	}

	c := &Client{
		logger:    o.logger.With(zap.String("component", "client")),
		ledger:    ledger,
		envelopes: make(map[string]*envelope.Envelope, len(endpoints)),
		limiters:  make(map[string]*ratelimit.Limiter, len(endpoints)),
	}

	envOpts := []envelope.Option{envelope.WithLogger(o.logger)}
	if o.tok != nil {
		envOpts = append(envOpts, envelope.WithTokenizer(o.tok))
	}
	if o.collector != nil {
		envOpts = append(envOpts, envelope.WithMetrics(o.collector))
	}
	if o.cache != nil {
		envOpts = append(envOpts, envelope.WithCache(o.cache))
	}
	if o.store != nil {
		envOpts = append(envOpts, envelope.WithSink(o.store))
	}
	for _, s := range o.sinks {
		envOpts = append(envOpts, envelope.WithSink(s))
	}

	for id, ep := range endpoints {
		ep.Normalize()
		adapter := adapters[id]
		if adapter == nil {
			var aerr error
			adapter, aerr = provider.NewHTTPAdapter(ep, o.logger)
			if aerr != nil {
				return nil, aerr
			}
		}
		limiter := ratelimit.NewLimiter(ratelimit.Config{
			Endpoint:          id,
			RequestsPerPeriod: ep.RequestsPerPeriod,
			TokensPerPeriod:   ep.TokensPerPeriod,
			Period:            ep.Period,
		}, o.logger)
		env, eerr := envelope.New(ep, adapter, limiter, ledger, envOpts...)
		if eerr != nil {
			return nil, eerr
		}
		c.envelopes[id] = env
		c.limiters[id] = limiter
	}

	_, c.run = ledger.Open(context.Background(), budget.Cap(o.runCap))

	c.logger.Info("client ready",
		zap.Strings("endpoints", c.Endpoints()),
		zap.Float64("run_cap", o.runCap))
	return c, nil
}

// assemble resolves the final endpoint set: configuration endpoints
// first, explicit registrations next (overriding by ID), adapter
// overrides last.
func (o *options) assemble() (map[string]provider.EndpointConfig, map[string]provider.Adapter, error) {
	endpoints := make(map[string]provider.EndpointConfig)
	adapters := make(map[string]provider.Adapter)

	if o.cfg != nil {
		for name, ep := range o.cfg.Endpoints {
			if ep.ID == "" {
				ep.ID = name
			}
			endpoints[ep.ID] = ep
		}
		if o.runCap <= 0 {
			o.runCap = o.cfg.Budget.RunCap
		}
	}
	for _, spec := range o.endpoints {
		if spec.cfg.ID == "" {
			return nil, nil, types.NewError(types.ErrInvalidConfig, "endpoint id is required")
		}
		endpoints[spec.cfg.ID] = spec.cfg
		if spec.adapter != nil {
			adapters[spec.cfg.ID] = spec.adapter
		}
	}
	for name, adapter := range o.adapters {
		if _, ok := endpoints[name]; !ok {
			return nil, nil, types.Errorf(types.ErrInvalidConfig,
				"adapter references unknown endpoint %q", name)
		}
		adapters[name] = adapter
	}
	if len(endpoints) == 0 {
		return nil, nil, types.NewError(types.ErrInvalidConfig,
			"at least one endpoint is required: use WithEndpoint or WithConfig")
	}
	return endpoints, adapters, nil
}
