package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/llmflow/types"
)

func newTestLimiter(cfg Config) *Limiter {
	return NewLimiter(cfg, zap.NewNop())
}

// queueLen reads the waiter queue depth under the limiter's own lock.
func queueLen(l *Limiter) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 5}, nil)

	snap := l.Snapshot()
	assert.Equal(t, "chat", snap.Endpoint)
	assert.Equal(t, 5, snap.RequestCeiling)
	assert.Equal(t, 0, snap.TokenCeiling)
	assert.Equal(t, time.Minute, snap.Period, "zero period should default to one minute")
	assert.Equal(t, 0, snap.Requests)
	assert.Equal(t, 0, snap.Tokens)
	assert.False(t, snap.WindowStart.IsZero())
}

func TestLimiter_PassThrough(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "free", Period: time.Hour})

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Admit(context.Background(), 1_000_000))
	}
	assert.Less(t, time.Since(start), time.Second, "pass-through must never block")

	// Reconcile is a no-op without a token ceiling.
	l.Reconcile(1_000_000, 0)
	snap := l.Snapshot()
	assert.Equal(t, 0, snap.Requests)
	assert.Equal(t, 0, snap.Tokens)
}

func TestLimiter_NegativeEstimate(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 5, Period: time.Hour})

	err := l.Admit(context.Background(), -1)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "chat", typed.Endpoint)
}

func TestLimiter_EstimateAboveCeilingFailsFast(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: time.Hour})

	start := time.Now()
	err := l.Admit(context.Background(), 101)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Less(t, time.Since(start), time.Second, "impossible estimate must not suspend")

	// At exactly the ceiling the request is allowed to occupy a full window.
	require.NoError(t, l.Admit(context.Background(), 100))
}

func TestLimiter_ImmediateAdmission(t *testing.T) {
	l := newTestLimiter(Config{
		Endpoint:          "chat",
		RequestsPerPeriod: 2,
		TokensPerPeriod:   100,
		Period:            time.Hour,
	})

	require.NoError(t, l.Admit(context.Background(), 30))
	require.NoError(t, l.Admit(context.Background(), 40))

	snap := l.Snapshot()
	assert.Equal(t, 2, snap.Requests)
	assert.Equal(t, 70, snap.Tokens)
	assert.Equal(t, 0, snap.QueueLen)
}

func TestLimiter_RequestCeilingBlocksUntilRoll(t *testing.T) {
	const period = 60 * time.Millisecond
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 1, Period: period})

	require.NoError(t, l.Admit(context.Background(), 0))

	start := time.Now()
	require.NoError(t, l.Admit(context.Background(), 0))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, period-25*time.Millisecond,
		"second request should wait for the window to roll")
}

func TestLimiter_TokenCeilingBlocksUntilRoll(t *testing.T) {
	const period = 60 * time.Millisecond
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: period})

	require.NoError(t, l.Admit(context.Background(), 80))

	start := time.Now()
	require.NoError(t, l.Admit(context.Background(), 50))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, period-25*time.Millisecond,
		"80+50 cannot share a 100-token window")
}

// Five calls against a ceiling of two per window must spread over three
// windows, and any two-window-sized span of the grant timeline can hold
// at most two grants.
func TestLimiter_WaveScheduling(t *testing.T) {
	const period = 80 * time.Millisecond
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 2, Period: period})

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Admit(context.Background(), 0); err != nil {
				errs <- err
				return
			}
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("admit failed: %v", err)
	}

	require.Len(t, grants, 5)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := 0; i+2 < len(grants); i++ {
		gap := grants[i+2].Sub(grants[i])
		assert.GreaterOrEqual(t, gap, period-25*time.Millisecond,
			"grants %d and %d landed in the same window", i, i+2)
	}
}

func TestLimiter_FIFOOrder(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: time.Hour})

	// Fill the window so every follower queues.
	require.NoError(t, l.Admit(context.Background(), 100))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Admit(context.Background(), 100); err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		// Pin the arrival order before launching the next waiter.
		require.Eventually(t, func() bool {
			return queueLen(l) == i+1
		}, time.Second, time.Millisecond)
	}

	// Each refund opens room for exactly one full-window waiter, so the
	// queue drains one grant at a time in arrival order.
	for granted := 1; granted <= 3; granted++ {
		l.Reconcile(100, 0)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == granted
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order, "waiters must be granted in arrival order")
}

func TestLimiter_AdmissionTimeout(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 1, Period: time.Hour})
	require.NoError(t, l.Admit(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Admit(ctx, 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrAdmissionTimeout, types.GetErrorCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "chat", typed.Endpoint)

	assert.Equal(t, 0, queueLen(l), "timed-out waiter must leave the queue")
}

func TestLimiter_CancelReleasesWaiter(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 1, Period: time.Hour})
	require.NoError(t, l.Admit(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Admit(ctx, 0) }()

	require.Eventually(t, func() bool { return queueLen(l) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, types.ErrCallCanceled, types.GetErrorCode(err))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled waiter never returned")
	}
	assert.Equal(t, 0, queueLen(l))
}

// A pre-expired context is reported before any window state is touched.
func TestLimiter_ExpiredContextBeforeQueueing(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 10, Period: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Admit(ctx, 5)
	require.Error(t, err)
	assert.Equal(t, types.ErrCallCanceled, types.GetErrorCode(err))

	snap := l.Snapshot()
	assert.Equal(t, 0, snap.Requests)
	assert.Equal(t, 0, snap.Tokens)
}

func TestLimiter_ReconcileFreesCapacity(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: time.Hour})

	// The first call was admitted with a generous estimate.
	require.NoError(t, l.Admit(context.Background(), 80))

	done := make(chan error, 1)
	go func() { done <- l.Admit(context.Background(), 50) }()
	require.Eventually(t, func() bool { return queueLen(l) == 1 }, time.Second, time.Millisecond)

	// The call actually used 20 tokens; the refund must wake the waiter
	// well before the one-hour window rolls.
	l.Reconcile(80, 20)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconcile did not release the queued waiter")
	}

	snap := l.Snapshot()
	assert.Equal(t, 70, snap.Tokens, "20 actual + 50 admitted")
	assert.Equal(t, 0, snap.QueueLen)
}

func TestLimiter_ReconcileUpward(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: time.Hour})

	require.NoError(t, l.Admit(context.Background(), 50))

	// The call overshot its estimate. The window absorbs the overage even
	// though that pushes the counter past the ceiling.
	l.Reconcile(50, 120)
	assert.Equal(t, 120, l.Snapshot().Tokens)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Admit(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, types.ErrAdmissionTimeout, types.GetErrorCode(err),
		"an over-budget window admits nothing until it rolls")
}

func TestLimiter_ReconcileClampsAtZero(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: time.Hour})

	require.NoError(t, l.Admit(context.Background(), 10))
	l.Reconcile(10, 0)
	assert.Equal(t, 0, l.Snapshot().Tokens)

	// A stale downward adjustment cannot drive the counter negative.
	l.Reconcile(50, 0)
	assert.Equal(t, 0, l.Snapshot().Tokens)
}

func TestLimiter_WindowRollForwardOnly(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", TokensPerPeriod: 100, Period: time.Minute})

	base := time.Now()
	current := base
	l.mu.Lock()
	l.now = func() time.Time { return current }
	l.windowStart = base
	l.mu.Unlock()

	require.NoError(t, l.Admit(context.Background(), 60))

	// Mid-window: counters survive.
	current = base.Add(30 * time.Second)
	assert.Equal(t, 60, l.Snapshot().Tokens)

	// A clock step backward never rewinds the window.
	current = base.Add(-time.Hour)
	snap := l.Snapshot()
	assert.Equal(t, 60, snap.Tokens)
	assert.Equal(t, base, snap.WindowStart)

	// Once the period has elapsed the counters reset.
	current = base.Add(time.Minute)
	snap = l.Snapshot()
	assert.Equal(t, 0, snap.Tokens)
	assert.Equal(t, current, snap.WindowStart)
}

// abandon must refund a granted reservation only while the grant's
// window is still current; after a roll the refund would corrupt the
// fresh window's counters.
func TestLimiter_AbandonRefundsCurrentWindowOnly(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 5, TokensPerPeriod: 100, Period: time.Hour})

	require.NoError(t, l.Admit(context.Background(), 40))

	l.mu.Lock()
	w := &waiter{tokens: 30, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.dispatchLocked()
	granted := w.granted
	l.mu.Unlock()
	require.True(t, granted)
	assert.Equal(t, 70, l.Snapshot().Tokens)

	l.abandon(w)
	snap := l.Snapshot()
	assert.Equal(t, 40, snap.Tokens)
	assert.Equal(t, 1, snap.Requests)

	// Same shape, but the grant's window has since rolled.
	l.mu.Lock()
	stale := &waiter{tokens: 30, ready: make(chan struct{})}
	l.queue = append(l.queue, stale)
	l.dispatchLocked()
	stale.grantWindow = l.windowStart.Add(-time.Hour)
	l.mu.Unlock()

	l.abandon(stale)
	snap = l.Snapshot()
	assert.Equal(t, 70, snap.Tokens, "stale grant must not be refunded")
	assert.Equal(t, 2, snap.Requests)
}

func TestLimiter_ErrorsAreTyped(t *testing.T) {
	l := newTestLimiter(Config{Endpoint: "chat", RequestsPerPeriod: 1, Period: time.Hour})
	require.NoError(t, l.Admit(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Admit(ctx, 0)

	assert.True(t, types.IsCode(err, types.ErrAdmissionTimeout))
	assert.False(t, errors.Is(err, context.Canceled))
}
