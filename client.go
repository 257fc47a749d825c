package llmflow

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/budget"
	"github.com/BaSui01/llmflow/envelope"
	"github.com/BaSui01/llmflow/provider"
	"github.com/BaSui01/llmflow/ratelimit"
	"github.com/BaSui01/llmflow/structured"
	"github.com/BaSui01/llmflow/types"
)

// Client is the caller-facing surface over the invocation stack.
// Instances are safe for concurrent use; create one per process and
// share it.
type Client struct {
	logger    *zap.Logger
	ledger    *budget.Ledger
	envelopes map[string]*envelope.Envelope
	limiters  map[string]*ratelimit.Limiter

	// run receives every charge made without a caller-opened scope and
	// is the ancestor of every scope opened through OpenScope.
	run *budget.Scope
}

// Invoke runs one governed call and returns the finalized record. The
// endpoint is taken from req.Endpoint; with exactly one endpoint
// configured it may stay empty. A context carrying no budget scope is
// attributed to the client's run scope.
func (c *Client) Invoke(ctx context.Context, req *provider.Request, opts ...envelope.CallOption) (*envelope.CallRecord, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil request")
	}
	env, err := c.envelopeFor(req.Endpoint)
	if err != nil {
		return nil, err
	}
	return env.Execute(c.scoped(ctx), req, opts...)
}

// InvokeText runs one governed call and returns just the response
// text. Per-call overrides ride along as envelope options, e.g.
// envelope.WithMaxAttempts or envelope.WithAttemptTimeout.
func (c *Client) InvokeText(ctx context.Context, endpoint, prompt string, opts ...envelope.CallOption) (string, error) {
	rec, err := c.Invoke(ctx, &provider.Request{Endpoint: endpoint, Prompt: prompt}, opts...)
	if err != nil {
		return "", err
	}
	return rec.Text, nil
}

// InvokeShaped runs the semantic retry loop until the endpoint yields a
// value satisfying shape, or maxAttempts semantic attempts are spent
// (<= 0 uses the default of 3). Each semantic attempt is one full
// governed call with its own transport retries; the attempt history is
// returned on success and failure alike.
func (c *Client) InvokeShaped(ctx context.Context, endpoint, prompt string, shape *structured.Shape, maxAttempts int, opts ...envelope.CallOption) (any, []structured.Attempt, error) {
	inv, err := c.invokerFor(endpoint, opts)
	if err != nil {
		return nil, nil, err
	}
	return inv.Invoke(ctx, prompt, shape, maxAttempts)
}

// InvokeBoolean asks the endpoint for a YES/NO verdict, resolved by
// last occurrence in the response text.
func (c *Client) InvokeBoolean(ctx context.Context, endpoint, prompt string, opts ...envelope.CallOption) (bool, error) {
	inv, err := c.invokerFor(endpoint, opts)
	if err != nil {
		return false, err
	}
	verdict, _, err := inv.InvokeBoolean(ctx, prompt)
	return verdict, err
}

// InvokeTyped runs [Client.InvokeShaped] and decodes the validated
// value into T.
func InvokeTyped[T any](ctx context.Context, c *Client, endpoint, prompt string, shape *structured.Shape, maxAttempts int, opts ...envelope.CallOption) (T, error) {
	var out T
	value, _, err := c.InvokeShaped(ctx, endpoint, prompt, shape, maxAttempts, opts...)
	if err != nil {
		return out, err
	}
	if derr := structured.DecodeInto(value, &out); derr != nil {
		return out, types.NewError(types.ErrInvalidRequest,
			"validated value does not fit the target type").
			WithCause(derr).
			WithEndpoint(endpoint).
			WithRetryable(false)
	}
	return out, nil
}

// OpenScope opens a budget scope on ctx. A context carrying no scope
// nests the new one under the client's run scope, so the run total
// covers it. Close every scope when its region exits:
//
//	ctx, scope := client.OpenScope(ctx, budget.Cap(5))
//	defer scope.Close()
func (c *Client) OpenScope(ctx context.Context, opts ...budget.Option) (context.Context, *budget.Scope) {
	return c.ledger.Open(c.scoped(ctx), opts...)
}

// Usage returns the dollars spent through this client since New,
// including spend inside caller-opened scopes.
func (c *Client) Usage() float64 { return c.run.Usage() }

// Ledger exposes the shared budget ledger for ops surfaces.
func (c *Client) Ledger() *budget.Ledger { return c.ledger }

// Limiter returns the admission gate serving one endpoint.
func (c *Client) Limiter(endpoint string) (*ratelimit.Limiter, bool) {
	l, ok := c.limiters[endpoint]
	return l, ok
}

// Endpoints lists the configured endpoint IDs, sorted.
func (c *Client) Endpoints() []string {
	ids := make([]string, 0, len(c.envelopes))
	for id := range c.envelopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes the run scope. Later calls fail with SCOPE_CLOSED;
// totals stay readable. Injected dependencies (cache, journal, metrics)
// belong to their creators and stay open.
func (c *Client) Close() {
	c.run.Close()
	c.logger.Info("client closed", zap.Float64("run_total", c.run.Usage()))
}

// scoped attributes calls that carry no scope to the run scope. A
// caller-opened scope always wins.
func (c *Client) scoped(ctx context.Context) context.Context {
	if _, ok := budget.FromContext(ctx); ok {
		return ctx
	}
	return budget.NewContext(ctx, c.run)
}

// envelopeFor resolves the envelope serving endpoint. An empty name is
// allowed only while exactly one endpoint is configured.
func (c *Client) envelopeFor(endpoint string) (*envelope.Envelope, error) {
	if endpoint == "" {
		if len(c.envelopes) == 1 {
			for _, env := range c.envelopes {
				return env, nil
			}
		}
		return nil, types.Errorf(types.ErrInvalidRequest,
			"endpoint is required when %d endpoints are configured", len(c.envelopes))
	}
	env, ok := c.envelopes[endpoint]
	if !ok {
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown endpoint %q", endpoint).
			WithEndpoint(endpoint)
	}
	return env, nil
}

// invokerFor builds the semantic loop for one endpoint with per-call
// envelope options bound. The endpoint is resolved up front so a typo
// fails before the first attempt.
func (c *Client) invokerFor(endpoint string, opts []envelope.CallOption) (*structured.Invoker, error) {
	if _, err := c.envelopeFor(endpoint); err != nil {
		return nil, err
	}
	return structured.NewInvoker(
		&textCaller{client: c, endpoint: endpoint, opts: opts},
		structured.WithLogger(c.logger))
}

// textCaller adapts one endpoint's governed call to the semantic
// loop's Caller interface. Transport retries stay inside Invoke; the
// loop only ever sees terminal text or a terminal error.
type textCaller struct {
	client   *Client
	endpoint string
	opts     []envelope.CallOption
}

func (tc *textCaller) Call(ctx context.Context, prompt string) (string, error) {
	rec, err := tc.client.Invoke(ctx, &provider.Request{Endpoint: tc.endpoint, Prompt: prompt}, tc.opts...)
	if err != nil {
		return "", err
	}
	return rec.Text, nil
}
