package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestBreaker(t *testing.T, config CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cb, err := NewCircuitBreaker("test", config)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config CircuitBreakerConfig
		valid  bool
	}{
		{"default", DefaultCircuitBreakerConfig(), true},
		{"zero failures", CircuitBreakerConfig{Timeout: time.Second, MaxHalfOpenRequests: 1}, false},
		{"zero timeout", CircuitBreakerConfig{MaxFailures: 1, MaxHalfOpenRequests: 1}, false},
		{"zero half-open", CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCircuitBreaker("x", tt.config)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCircuitBreakerConfig)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Minute, MaxHalfOpenRequests: 1})

	for i := 0; i < 2; i++ {
		_, state := cb.RecordFailure()
		assert.Equal(t, CircuitBreakerStateClosed, state)
	}
	old, state := cb.RecordFailure()
	assert.Equal(t, CircuitBreakerStateClosed, old)
	assert.Equal(t, CircuitBreakerStateOpen, state)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
	assert.Equal(t, uint32(3), cb.Failures())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, MaxHalfOpenRequests: 1})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(t, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, MaxHalfOpenRequests: 1})

	cb.RecordFailure()
	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	clock.Advance(time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitBreakerStateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyRequests)

	old, state := cb.RecordSuccess()
	assert.Equal(t, CircuitBreakerStateHalfOpen, old)
	assert.Equal(t, CircuitBreakerStateClosed, state)
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, MaxHalfOpenRequests: 2})

	cb.RecordFailure()
	clock.Advance(time.Minute)
	require.NoError(t, cb.Allow())
	require.NoError(t, cb.Allow())

	_, state := cb.RecordFailure()
	assert.Equal(t, CircuitBreakerStateOpen, state)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	clock.Advance(time.Minute)
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb, _ := newTestBreaker(t, CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, MaxHalfOpenRequests: 1})
	boom := errors.New("boom")

	calls := 0
	fail := func() error { calls++; return boom }

	assert.ErrorIs(t, cb.Execute(fail), boom)
	assert.ErrorIs(t, cb.Execute(fail), boom)
	assert.ErrorIs(t, cb.Execute(fail), ErrCircuitBreakerOpen)
	assert.Equal(t, 2, calls)

	cb.Reset()
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.Equal(t, "test", cb.Name())
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb, _ := newTestBreaker(t, CircuitBreakerConfig{MaxFailures: 1000, Timeout: time.Minute, MaxHalfOpenRequests: 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(func() error {
				if i%2 == 0 {
					return errors.New("even")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
}
