package effects

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed BreakerState = iota

	// StateHalfOpen means the circuit is testing if the dependency has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen

	// StateDisabled is the logical overlay of a breaker with Enabled=false:
	// it always admits and never records.
	StateDisabled
)

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// BreakerCounts is a snapshot of a breaker's sliding-window counters.
type BreakerCounts struct {
	FailureCount     int       `json:"failure_count"`
	SuccessCount     int       `json:"success_count"`
	TotalRequests    int       `json:"total_requests"`
	HalfOpenRequests int       `json:"half_open_requests"`
	LastFailureTime  time.Time `json:"last_failure_time"`
	LastSuccessTime  time.Time `json:"last_success_time"`
	LastStateChange  time.Time `json:"last_state_change"`
}

// CircuitBreaker guards one downstream dependency. It tracks a sliding
// window of successes, failures, and slow calls, fails fast once a failure
// threshold is crossed, and probes recovery through a limited number of
// half-open requests.
//
// All methods are safe for concurrent use; one mutex per breaker instance
// serializes counter and state mutations.
type CircuitBreaker struct {
	name   string
	cfg    *BreakerConfig
	logger *slog.Logger
	clock  func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	successCount     int
	totalRequests    int
	halfOpenRequests int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a breaker for the named dependency.
//
// Example:
//
//	cb, err := effects.NewCircuitBreaker("payments-db",
//	    effects.WithFailureThreshold(5),
//	    effects.WithBreakerTimeout(60*time.Second),
//	)
func NewCircuitBreaker(name string, opts ...BreakerOption) (*CircuitBreaker, error) {
	cfg := DefaultBreakerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewCircuitBreakerFromConfig(name, cfg)
}

// NewCircuitBreakerFromConfig creates a breaker from a prebuilt config.
func NewCircuitBreakerFromConfig(name string, cfg *BreakerConfig) (*CircuitBreaker, error) {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	} else {
		cfg = cfg.clone()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger,
		clock:  cfg.Clock,
		state:  StateClosed,
	}
	cb.lastStateChange = cb.clock()
	return cb, nil
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a request may proceed. In the open state it promotes
// the breaker to half-open once the timeout has elapsed; this is the only
// read path that triggers a transition. Half-open admissions count against
// HalfOpenMaxRequests.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.cfg.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock().Sub(cb.lastStateChange) < cb.cfg.Timeout {
			return false
		}
		cb.transitionLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenRequests < cb.cfg.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful call. A half-open breaker closes once
// SuccessThreshold successes accumulate, resetting all counters.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.cfg.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.cleanupWindowLocked()
	cb.successCount++
	cb.totalRequests++
	cb.lastSuccessTime = cb.clock()

	if cb.state == StateHalfOpen && cb.successCount >= cb.cfg.SuccessThreshold {
		cb.transitionLocked(StateClosed)
		cb.resetCountersLocked()
	}
}

// RecordFailure records a failed call. A half-open breaker reopens on any
// single failure; a closed breaker opens once the minimum-request gate
// passes and either the absolute failure threshold or the failure rate
// threshold is crossed.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.cfg.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordFailureLocked()
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.cleanupWindowLocked()
	cb.failureCount++
	cb.totalRequests++
	cb.lastFailureTime = cb.clock()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case StateClosed:
		if cb.totalRequests >= cb.cfg.MinimumRequests &&
			(cb.failureCount >= cb.cfg.FailureThreshold || cb.rateLocked() >= cb.cfg.FailureRateThreshold) {
			cb.transitionLocked(StateOpen)
		}
	}
}

// RecordSlowCall treats a call at least as slow as SlowCallThreshold exactly
// like a failure. No-op when the threshold is unset or the call was fast
// enough.
func (cb *CircuitBreaker) RecordSlowCall(duration time.Duration) {
	if !cb.cfg.Enabled || cb.cfg.SlowCallThreshold == 0 {
		return
	}
	if duration < cb.cfg.SlowCallThreshold {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.logger.Debug("slow call recorded as failure",
		"breaker", cb.name,
		"duration", duration,
		"threshold", cb.cfg.SlowCallThreshold)
	cb.recordFailureLocked()
}

// FailureRate returns failures/total over the current window, or 0.0 with no
// requests.
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rateLocked()
}

// State returns the current state without triggering any transition.
func (cb *CircuitBreaker) State() BreakerState {
	if !cb.cfg.Enabled {
		return StateDisabled
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Counts() BreakerCounts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerCounts{
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		TotalRequests:    cb.totalRequests,
		HalfOpenRequests: cb.halfOpenRequests,
		LastFailureTime:  cb.lastFailureTime,
		LastSuccessTime:  cb.lastSuccessTime,
		LastStateChange:  cb.lastStateChange,
	}
}

// ForceOpen forces the breaker open, bypassing normal transition rules.
// Operator and test use.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateOpen)
}

// ForceClose forces the breaker closed, bypassing normal transition rules.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}

// Reset returns the breaker to closed with all counters zeroed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.resetCountersLocked()
	cb.lastFailureTime = time.Time{}
	cb.lastSuccessTime = time.Time{}
}

// Health returns the health status of the breaker. State and counters are
// read under one lock acquisition so the snapshot is never torn by a
// concurrent transition.
func (cb *CircuitBreaker) Health() HealthStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.state
	if !cb.cfg.Enabled {
		state = StateDisabled
	}

	return HealthStatus{
		Healthy:         state != StateOpen,
		State:           state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		TotalRequests:   cb.totalRequests,
		FailureRate:     cb.rateLocked(),
		LastStateChange: cb.lastStateChange,
	}
}

// openError builds the admission-denial error surfaced when the breaker
// rejects a request. The window counters ride along in the message.
func (cb *CircuitBreaker) openError(operation string) error {
	counts := cb.Counts()
	state := cb.State()

	return jperrors.NewCircuitBreakerError(
		fmt.Sprintf("request rejected (%d failures in %d requests)",
			counts.FailureCount, counts.TotalRequests),
		operation,
		state.String(),
	)
}

// cleanupWindowLocked drops stale failure data: once the most recent failure
// falls outside the sliding window, the failure and request counters reset so
// old failures stop contributing to the rate.
func (cb *CircuitBreaker) cleanupWindowLocked() {
	if cb.lastFailureTime.IsZero() {
		return
	}
	if cb.clock().Sub(cb.lastFailureTime) > cb.cfg.WindowSize {
		cb.failureCount = 0
		cb.totalRequests = 0
	}
}

func (cb *CircuitBreaker) rateLocked() float64 {
	if cb.totalRequests == 0 {
		return 0.0
	}
	return float64(cb.failureCount) / float64(cb.totalRequests)
}

func (cb *CircuitBreaker) resetCountersLocked() {
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalRequests = 0
	cb.halfOpenRequests = 0
}

// transitionLocked moves the breaker to the target state, resetting the
// half-open admission counter and the probe success count on entry to
// half-open so stale successes cannot close the breaker early.
func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.clock()
	cb.halfOpenRequests = 0

	if to == StateHalfOpen {
		cb.successCount = 0
	}

	cb.logger.Warn("circuit breaker state changed",
		"breaker", cb.name,
		"from", from.String(),
		"to", to.String())

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
