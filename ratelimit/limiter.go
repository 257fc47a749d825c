package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/types"
)

// Config bounds one endpoint's outgoing rate. A ceiling <= 0 disables
// that dimension; with both disabled the limiter is a pass-through.
type Config struct {
	Endpoint          string
	RequestsPerPeriod int
	TokensPerPeriod   int
	Period            time.Duration
}

func (c *Config) normalize() {
	if c.Period <= 0 {
		c.Period = time.Minute
	}
}

// waiter is one suspended Admit call. ready is closed exactly once,
// under the limiter's mutex, when the waiter is granted.
type waiter struct {
	tokens      int
	ready       chan struct{}
	granted     bool
	grantWindow time.Time
}

// Limiter is one endpoint's admission gate. Construct with NewLimiter;
// instances are independent, so endpoints never interfere.
type Limiter struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	windowStart time.Time
	requests    int
	tokens      int
	queue       []*waiter
	timer       *time.Timer

	// now is replaceable in tests that drive window math directly.
	now func() time.Time
}

// NewLimiter creates the gate for one endpoint.
func NewLimiter(cfg Config, logger *zap.Logger) *Limiter {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		cfg: cfg,
		logger: logger.With(
			zap.String("component", "ratelimit"),
			zap.String("endpoint", cfg.Endpoint)),
		now: time.Now,
	}
	l.windowStart = l.now()
	return l
}

// Admit blocks until the current window has room for one more request
// and estimatedTokens more tokens, then consumes that room. Waiters
// are granted strictly in arrival order. A deadline expiring during
// the wait returns ADMISSION_TIMEOUT; plain cancellation returns
// CALL_CANCELED. Either way the reservation is released.
func (l *Limiter) Admit(ctx context.Context, estimatedTokens int) error {
	if estimatedTokens < 0 {
		return types.Errorf(types.ErrInvalidRequest,
			"negative token estimate %d", estimatedTokens).
			WithEndpoint(l.cfg.Endpoint)
	}
	// An estimate above the ceiling can never fit in any window; fail
	// fast instead of suspending forever.
	if l.cfg.TokensPerPeriod > 0 && estimatedTokens > l.cfg.TokensPerPeriod {
		return types.Errorf(types.ErrInvalidRequest,
			"token estimate %d exceeds per-period ceiling %d",
			estimatedTokens, l.cfg.TokensPerPeriod).
			WithEndpoint(l.cfg.Endpoint)
	}
	if l.cfg.RequestsPerPeriod <= 0 && l.cfg.TokensPerPeriod <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return l.mapCtxErr(err)
	}

	l.mu.Lock()
	l.advanceLocked()
	if len(l.queue) == 0 && l.roomForLocked(estimatedTokens) {
		l.requests++
		l.tokens += estimatedTokens
		l.mu.Unlock()
		return nil
	}

	w := &waiter{tokens: estimatedTokens, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	depth := len(l.queue)
	l.scheduleLocked()
	l.mu.Unlock()

	l.logger.Debug("admission queued",
		zap.Int("estimated_tokens", estimatedTokens),
		zap.Int("queue_depth", depth))

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.abandon(w)
		return l.mapCtxErr(ctx.Err())
	}
}

// Reconcile adjusts the current window's token counter by the
// difference between what a call actually used and what was admitted
// for it. Freed capacity wakes queued waiters immediately; overuse
// raises the counter (possibly above the ceiling) and only delays
// future admission — a call that already ran is never re-blocked.
func (l *Limiter) Reconcile(estimatedTokens, actualTokens int) {
	if l.cfg.TokensPerPeriod <= 0 {
		return
	}
	delta := actualTokens - estimatedTokens
	if delta == 0 {
		return
	}

	l.mu.Lock()
	l.advanceLocked()
	l.tokens += delta
	if l.tokens < 0 {
		l.tokens = 0
	}
	if delta < 0 {
		l.dispatchLocked()
	}
	l.mu.Unlock()
}

// Snapshot is a point-in-time view for metrics and the ops surface.
type Snapshot struct {
	Endpoint       string        `json:"endpoint"`
	WindowStart    time.Time     `json:"window_start"`
	Requests       int           `json:"requests"`
	Tokens         int           `json:"tokens"`
	QueueLen       int           `json:"queue_len"`
	RequestCeiling int           `json:"request_ceiling,omitempty"`
	TokenCeiling   int           `json:"token_ceiling,omitempty"`
	Period         time.Duration `json:"period"`
}

// Snapshot returns the limiter's current window state.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanceLocked()
	return Snapshot{
		Endpoint:       l.cfg.Endpoint,
		WindowStart:    l.windowStart,
		Requests:       l.requests,
		Tokens:         l.tokens,
		QueueLen:       len(l.queue),
		RequestCeiling: l.cfg.RequestsPerPeriod,
		TokenCeiling:   l.cfg.TokensPerPeriod,
		Period:         l.cfg.Period,
	}
}

func (l *Limiter) mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrAdmissionTimeout,
			"deadline elapsed while waiting for admission").
			WithCause(err).
			WithEndpoint(l.cfg.Endpoint)
	}
	return types.NewError(types.ErrCallCanceled, "admission wait canceled").
		WithCause(err).
		WithEndpoint(l.cfg.Endpoint)
}

// abandon releases whatever hold w still has: its queue slot if it is
// still waiting, or its window reservation if the grant raced the
// cancellation and the call will not happen.
func (l *Limiter) abandon(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w.granted {
		if w.grantWindow.Equal(l.windowStart) {
			l.requests--
			l.tokens -= w.tokens
			if l.requests < 0 {
				l.requests = 0
			}
			if l.tokens < 0 {
				l.tokens = 0
			}
			l.dispatchLocked()
		}
		return
	}
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
}

// advanceLocked rolls the window if due and serves queued waiters out
// of whatever room that opened. Every path that touches the counters
// goes through here first, so earlier arrivals always get the fresh
// window before a newcomer can claim it.
func (l *Limiter) advanceLocked() {
	l.rollWindowLocked()
	l.dispatchLocked()
}

// rollWindowLocked resets the counters once the period has elapsed.
// The window start only ever moves forward.
func (l *Limiter) rollWindowLocked() {
	now := l.now()
	if now.Before(l.windowStart) {
		return
	}
	if now.Sub(l.windowStart) >= l.cfg.Period {
		l.windowStart = now
		l.requests = 0
		l.tokens = 0
	}
}

func (l *Limiter) roomForLocked(estimatedTokens int) bool {
	if l.cfg.RequestsPerPeriod > 0 && l.requests+1 > l.cfg.RequestsPerPeriod {
		return false
	}
	if l.cfg.TokensPerPeriod > 0 && l.tokens+estimatedTokens > l.cfg.TokensPerPeriod {
		return false
	}
	return true
}

// dispatchLocked grants waiters from the head while they fit. Strict
// FIFO: a blocked head blocks everyone behind it, which is what keeps
// large requests from starving.
func (l *Limiter) dispatchLocked() {
	for len(l.queue) > 0 {
		w := l.queue[0]
		if !l.roomForLocked(w.tokens) {
			break
		}
		l.queue = l.queue[1:]
		l.requests++
		l.tokens += w.tokens
		w.granted = true
		w.grantWindow = l.windowStart
		close(w.ready)
	}
}

// scheduleLocked arms the window-roll timer while waiters are queued.
func (l *Limiter) scheduleLocked() {
	if len(l.queue) == 0 {
		return
	}
	d := l.windowStart.Add(l.cfg.Period).Sub(l.now())
	if d < 0 {
		d = 0
	}
	if l.timer == nil {
		l.timer = time.AfterFunc(d, l.onTimer)
		return
	}
	l.timer.Reset(d)
}

// onTimer rolls the window and moves the queue along. Firing with an
// empty queue or before the period has elapsed is harmless; the state
// is re-checked under the lock and the timer re-armed as needed.
func (l *Limiter) onTimer() {
	l.mu.Lock()
	l.advanceLocked()
	l.scheduleLocked()
	queued := len(l.queue)
	l.mu.Unlock()

	if queued > 0 {
		l.logger.Debug("window rolled with waiters still queued",
			zap.Int("queue_depth", queued))
	}
}
