package errutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState is one of the three classic circuit-breaker states.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// CircuitBreakerConfig tunes failure/success thresholds and the open-state
// cooldown before a half-open probe is allowed.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OnStateChange    func(from, to CircuitState, name string)
}

// DefaultCircuitBreakerConfig returns reasonable defaults for MCP server
// start attempts and subprocess probes.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreakerMetrics is a point-in-time snapshot for observability.
type CircuitBreakerMetrics struct {
	Name         string
	State        CircuitState
	FailureCount int
	SuccessCount int
}

// CircuitBreaker guards a flaky dependency (an MCP server start, a
// subprocess probe) from being hammered by repeated failing calls.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	successCount int
	openedAt     time.Time
}

// NewCircuitBreaker constructs a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultCircuitBreakerConfig().SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	return &CircuitBreaker{name: name, config: config, state: StateClosed}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(from, to, cb.name)
	}
}

// State returns the current circuit state, transitioning Open→HalfOpen if
// the cooldown has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.Timeout {
		cb.successCount = 0
		cb.setState(StateHalfOpen)
	}
}

// Execute runs fn if the circuit allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	cb.mu.Lock()
	cb.maybeHalfOpenLocked()
	if cb.state == StateOpen {
		cb.mu.Unlock()
		return NewDegradedError(fmt.Errorf("circuit %q is open", cb.name), "", "circuit-open")
	}
	cb.mu.Unlock()

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failureCount++
		cb.successCount = 0
		if cb.state == StateHalfOpen || cb.failureCount >= cb.config.FailureThreshold {
			cb.openedAt = time.Now()
			cb.setState(StateOpen)
		}
		return err
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.setState(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	}
	return nil
}

// ExecuteFunc is the generic form of Execute for calls that return a value.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		result = v
		return err
	})
	return result, err
}

// Metrics returns a snapshot of the breaker's counters and state.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
	}
}

// Reset forces the breaker back to closed with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.successCount = 0
	cb.setState(StateClosed)
}

// CircuitBreakerManager lazily creates and caches one breaker per name.
type CircuitBreakerManager struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager constructs a manager sharing config across all
// breakers it creates.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{config: config, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, m.config)
	m.breakers[name] = cb
	return cb
}
