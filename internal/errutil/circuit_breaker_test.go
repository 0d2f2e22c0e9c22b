package errutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failing)
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("should not be called while open")
		return nil
	})
	require.True(t, IsDegraded(err))
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still broken") }))
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	require.Equal(t, StateClosed, cb.State())
	require.Equal(t, 0, cb.Metrics().FailureCount)
}

func TestExecuteFunc(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())
	v, err := ExecuteFunc(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestCircuitBreakerConcurrent(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 50, SuccessThreshold: 1, Timeout: time.Millisecond})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(ctx context.Context) error {
				if i%2 == 0 {
					return errors.New("boom")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	_ = cb.State()
}

func TestCircuitBreakerManager(t *testing.T) {
	mgr := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())
	a := mgr.Get("mcp:server-a")
	b := mgr.Get("mcp:server-a")
	c := mgr.Get("mcp:server-b")
	require.Same(t, a, b)
	require.NotSame(t, a, c)
}

func TestCircuitBreakerOnStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]CircuitState
	done := make(chan struct{}, 1)

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(from, to CircuitState, name string) {
			mu.Lock()
			transitions = append(transitions, [2]CircuitState{from, to})
			mu.Unlock()
			done <- struct{}{}
		},
	})

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state change callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 1)
	require.Equal(t, StateClosed, transitions[0][0])
	require.Equal(t, StateOpen, transitions[0][1])
}
