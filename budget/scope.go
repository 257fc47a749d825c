package budget

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scope is one node in the spend tree. All mutable state is guarded by
// the owning ledger's mutex; Scope methods take that lock themselves,
// so callers never coordinate.
type Scope struct {
	ledger *Ledger
	id     string
	parent *Scope

	cap      float64 // <= 0 means unlimited
	total    float64
	children []string
	closed   bool

	openedAt time.Time
	closedAt time.Time
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string { return s.id }

// Close marks the scope finished. Idempotent: the second and later
// calls are no-ops. Totals already attributed to this scope and its
// ancestors survive closing.
func (s *Scope) Close() {
	s.ledger.mu.Lock()
	if s.closed {
		s.ledger.mu.Unlock()
		return
	}
	s.closed = true
	s.closedAt = time.Now()
	total := s.total
	s.ledger.mu.Unlock()

	s.ledger.logger.Debug("scope closed",
		zap.String("scope", s.id),
		zap.Float64("total", total),
		zap.Duration("open_for", s.closedAt.Sub(s.openedAt)))
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return s.closed
}

// Usage returns the total attributed to this scope so far, including
// charges made by descendants while they were open beneath it.
func (s *Scope) Usage() float64 {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return s.total
}

// Cap returns the scope's cap and whether one is set.
func (s *Scope) Cap() (float64, bool) {
	if s.cap <= 0 {
		return 0, false
	}
	return s.cap, true
}

// Remaining returns how much headroom the cap still has. A negative
// value means the scope is over cap. The second return is false for
// unlimited scopes.
func (s *Scope) Remaining() (float64, bool) {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	if s.cap <= 0 {
		return 0, false
	}
	return s.cap - s.total, true
}

// Children returns the ids of scopes opened directly beneath this one.
func (s *Scope) Children() []string {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return append([]string(nil), s.children...)
}

// Chain returns the scope id path from this scope up to the root,
// innermost first. Used to stamp terminal errors with enough context
// to reproduce a failure.
func (s *Scope) Chain() []string {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	var chain []string
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur.id)
	}
	return chain
}

type scopeCtxKey struct{}

// withScope derives a context carrying scope.
func withScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// NewContext derives a context carrying an already-open scope, without
// opening a new one. It routes work started on a fresh context into an
// existing scope, such as a process-wide run scope. A nil scope returns
// ctx unchanged.
func NewContext(ctx context.Context, scope *Scope) context.Context {
	if scope == nil {
		return ctx
	}
	return withScope(ctx, scope)
}

// FromContext returns the innermost scope carried by ctx, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeCtxKey{}).(*Scope)
	return s, ok
}
