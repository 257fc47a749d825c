package budget

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/types"
)

// Ledger is the process-wide spend accountant. The zero value is not
// usable; construct with NewLedger and share the instance.
type Ledger struct {
	mu     sync.Mutex
	scopes map[string]*Scope
	logger *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		scopes: make(map[string]*Scope),
		logger: logger.With(zap.String("component", "budget")),
	}
}

// Option configures a scope at open time.
type Option func(*Scope)

// Cap sets the scope's dollar cap. amount <= 0 leaves the scope
// unlimited: it participates in ancestor accounting but never trips
// BUDGET_EXCEEDED itself.
func Cap(amount float64) Option {
	return func(s *Scope) { s.cap = amount }
}

// Open starts a new scope whose parent is the scope already carried by
// ctx, and returns a derived context carrying the new scope. Callers
// must pair every Open with a Close, normally via defer:
//
//	ctx, scope := ledger.Open(ctx, budget.Cap(5))
//	defer scope.Close()
func (l *Ledger) Open(ctx context.Context, opts ...Option) (context.Context, *Scope) {
	scope := &Scope{
		ledger:   l,
		id:       uuid.New().String(),
		openedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(scope)
	}

	// A scope owned by a different ledger cannot be this scope's
	// parent; such a scope starts a fresh tree.
	if parent, ok := FromContext(ctx); ok && parent.ledger == l {
		scope.parent = parent
	}

	l.mu.Lock()
	l.scopes[scope.id] = scope
	if scope.parent != nil {
		scope.parent.children = append(scope.parent.children, scope.id)
	}
	l.mu.Unlock()

	l.logger.Debug("scope opened",
		zap.String("scope", scope.id),
		zap.Float64("cap", scope.cap))
	return withScope(ctx, scope), scope
}

// Charge attributes amount to scope and to every open ancestor, all
// under one critical section. The charge is recorded first; if it
// pushed any capped open ancestor strictly above its cap, Charge then
// returns BUDGET_EXCEEDED naming the breached scopes. Charging a
// closed scope records nothing and returns SCOPE_CLOSED.
func (l *Ledger) Charge(scope *Scope, amount float64) error {
	if scope == nil {
		return types.NewError(types.ErrInvalidRequest, "charge requires a scope")
	}
	if amount < 0 {
		return types.Errorf(types.ErrInvalidRequest, "negative charge %.6f", amount)
	}

	var breached []string
	l.mu.Lock()
	if scope.closed {
		l.mu.Unlock()
		return types.NewError(types.ErrScopeClosed, "charge against closed scope").
			WithScopes([]string{scope.id})
	}
	for s := scope; s != nil; s = s.parent {
		if s.closed {
			continue
		}
		s.total += amount
		if s.cap > 0 && s.total > s.cap {
			breached = append(breached, s.id)
		}
	}
	l.mu.Unlock()

	if len(breached) > 0 {
		l.logger.Warn("charge pushed scope over cap",
			zap.Float64("amount", amount),
			zap.Strings("scopes", breached))
		return types.Errorf(types.ErrBudgetExceeded,
			"charge of %.6f pushed %d scope(s) over cap", amount, len(breached)).
			WithScopes(breached)
	}

	l.logger.Debug("charged",
		zap.String("scope", scope.id),
		zap.Float64("amount", amount))
	return nil
}

// Precheck blocks the next call under an over-cap tree: it returns
// BUDGET_EXCEEDED when any capped open ancestor is already strictly
// above its cap. A scope sitting exactly at its cap still admits one
// more call; only the post-call Charge can report the crossing.
func (l *Ledger) Precheck(scope *Scope) error {
	if scope == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if scope.closed {
		return types.NewError(types.ErrScopeClosed, "scope is closed").
			WithScopes([]string{scope.id})
	}
	for s := scope; s != nil; s = s.parent {
		if !s.closed && s.cap > 0 && s.total > s.cap {
			return types.Errorf(types.ErrBudgetExceeded,
				"scope %s at %.6f exceeds cap %.6f", s.id, s.total, s.cap).
				WithScopes([]string{s.id})
		}
	}
	return nil
}

// Lookup returns the scope with the given id, open or closed.
func (l *Ledger) Lookup(id string) (*Scope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[id]
	return s, ok
}

// ScopeInfo is a point-in-time view of one scope.
type ScopeInfo struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parent_id,omitempty"`
	Cap      float64   `json:"cap,omitempty"`
	Total    float64   `json:"total"`
	Closed   bool      `json:"closed"`
	Children []string  `json:"children,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
}

// Snapshot returns every scope the ledger has seen, oldest first.
// Closed scopes keep their totals; money spent stays spent.
func (l *Ledger) Snapshot() []ScopeInfo {
	l.mu.Lock()
	out := make([]ScopeInfo, 0, len(l.scopes))
	for _, s := range l.scopes {
		info := ScopeInfo{
			ID:       s.id,
			Cap:      s.cap,
			Total:    s.total,
			Closed:   s.closed,
			Children: append([]string(nil), s.children...),
			OpenedAt: s.openedAt,
		}
		if s.parent != nil {
			info.ParentID = s.parent.id
		}
		out = append(out, info)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
