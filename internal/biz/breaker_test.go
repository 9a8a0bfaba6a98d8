package biz

import (
	"sync"
	"testing"
	"time"

	"RelayLane/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    3,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxAttempts: 2,
		ResetTimeout:        5 * time.Minute,
	}
}

func TestCircuitBreaker_OpensExactlyAtThreshold(t *testing.T) {
	for threshold := 1; threshold <= 5; threshold++ {
		cfg := testBreakerConfig()
		cfg.FailureThreshold = threshold
		cb := NewCircuitBreaker("primary", cfg, WithClock(newFakeClock().Now))

		for i := 1; i < threshold; i++ {
			cb.RecordFailure()
			assert.Equal(t, model.BreakerClosed, cb.State(), "threshold=%d failures=%d", threshold, i)
		}
		cb.RecordFailure()
		assert.Equal(t, model.BreakerOpen, cb.State(), "threshold=%d", threshold)
	}
}

func TestCircuitBreaker_SuccessForgivesIsolatedFailures(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, model.BreakerClosed, cb.State())
}

func TestCircuitBreaker_LazyHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("primary", testBreakerConfig(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, model.BreakerOpen, cb.State())

	// Before recovery timeout every check is denied and state stays open
	start := clock.Now()
	for _, offset := range []time.Duration{0, time.Second, 29 * time.Second} {
		clock.Advance(start.Add(offset).Sub(clock.Now()))
		assert.False(t, cb.CanExecute())
		assert.Equal(t, model.BreakerOpen, cb.State())
	}

	// Time passing alone does not change state
	clock.Advance(time.Second)
	assert.Equal(t, model.BreakerOpen, cb.State())

	assert.True(t, cb.CanExecute())
	assert.Equal(t, model.BreakerHalfOpen, cb.State())
	assert.Equal(t, 0, cb.Snapshot().HalfOpenAttempts)
}

func TestCircuitBreaker_OpenFailureRefreshesLastFailure(t *testing.T) {
	clock := newFakeClock()
	cfg := testBreakerConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker("primary", cfg, WithClock(clock.Now))

	cb.RecordFailure()
	clock.Advance(20 * time.Second)
	cb.RecordFailure()
	assert.Equal(t, model.BreakerOpen, cb.State())

	clock.Advance(20 * time.Second)
	assert.False(t, cb.CanExecute(), "recovery timeout restarts from the latest failure")

	clock.Advance(10 * time.Second)
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenFailuresReopen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("primary", testBreakerConfig(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, model.BreakerHalfOpen, cb.State())
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, model.BreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("primary", testBreakerConfig(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(time.Minute)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	cb.RecordSuccess()

	snap := cb.Snapshot()
	assert.Equal(t, model.BreakerClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, 0, snap.HalfOpenAttempts)
	require.NotNil(t, snap.ResetTime)
	assert.Equal(t, clock.Now().Add(5*time.Minute), *snap.ResetTime)
}

func TestCircuitBreaker_HalfOpenDeniesAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	cfg := testBreakerConfig()
	cfg.HalfOpenMaxAttempts = 1
	cb := NewCircuitBreaker("primary", cfg, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.True(t, cb.CanExecute())
	cb.RecordFailure()

	assert.Equal(t, model.BreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("primary", testBreakerConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, model.BreakerOpen, cb.State())

	cb.Reset()
	snap := cb.Snapshot()
	assert.Equal(t, model.BreakerClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Nil(t, snap.LastFailureTime)
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []model.BreakerTransition
	var cb *CircuitBreaker
	cb = NewCircuitBreaker("primary", testBreakerConfig(), WithClock(clock.Now),
		WithStateChangeHook(func(tr model.BreakerTransition) {
			// Reading state from the hook must not deadlock
			_ = cb.State()
			transitions = append(transitions, tr)
		}))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	cb.CanExecute()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.Reset()

	require.Len(t, transitions, 5)
	assert.Equal(t, model.BreakerClosed, transitions[0].From)
	assert.Equal(t, model.BreakerOpen, transitions[0].To)
	assert.Equal(t, 3, transitions[0].FailureCount)
	assert.Equal(t, model.BreakerHalfOpen, transitions[1].To)
	assert.Equal(t, model.BreakerClosed, transitions[2].To)
	assert.Equal(t, model.BreakerOpen, transitions[3].To)
	assert.Equal(t, model.BreakerClosed, transitions[4].To)
	assert.True(t, transitions[4].Manual)
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.FailureThreshold = 1000
	cb := NewCircuitBreaker("primary", cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cb.CanExecute()
				cb.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, cb.Snapshot().FailureCount)
	assert.Equal(t, model.BreakerClosed, cb.State())
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	assert.NoError(t, testBreakerConfig().Validate())
	assert.NoError(t, DefaultCircuitBreakerConfig().Validate())

	cfg := testBreakerConfig()
	cfg.FailureThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = testBreakerConfig()
	cfg.HalfOpenMaxAttempts = 0
	assert.Error(t, cfg.Validate())
}
