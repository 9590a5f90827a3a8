package effects

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StrategyKind selects the backoff strategy for retry operations.
type StrategyKind string

const (
	// StrategyLinear grows the delay linearly: base_delay * attempt.
	StrategyLinear StrategyKind = "linear"

	// StrategyExponential grows the delay geometrically:
	// base_delay * multiplier^(attempt-1).
	StrategyExponential StrategyKind = "exponential"

	// StrategyJitteredExponential computes the exponential ceiling and then
	// draws the delay uniformly from [0, ceiling] (full jitter).
	StrategyJitteredExponential StrategyKind = "jittered_exponential"

	// StrategyFibonacci grows the delay along the fibonacci sequence:
	// base_delay * fib(attempt).
	StrategyFibonacci StrategyKind = "fibonacci"

	// StrategyCustom delegates the delay to an injected function of the
	// attempt number, clamped to max_delay.
	StrategyCustom StrategyKind = "custom"
)

// RetryCondition selects how failures are classified as retryable.
type RetryCondition string

const (
	// RetryAnyError retries every failure not listed as non-retryable.
	RetryAnyError RetryCondition = "any_error"

	// RetryNamedKinds retries only failures whose kind is listed in
	// RetryableKinds. Non-retryable kinds still win.
	RetryNamedKinds RetryCondition = "named_kinds"
)

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// Strategy defines the backoff strategy.
	// Default: StrategyExponential
	Strategy StrategyKind

	// MaxAttempts is the maximum number of attempts (including the initial
	// call). Must be in [1, 10].
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay unit the strategy scales from.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay clamps every computed delay. Must be >= BaseDelay.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is the growth factor for the exponential strategies.
	// Must be in [1.0, 10.0].
	// Default: 2.0
	Multiplier float64

	// JitterEnabled adds a bounded random amount to each delay for the
	// linear, exponential, and fibonacci strategies. The jittered
	// exponential strategy randomizes fully and ignores this flag.
	// Default: true
	JitterEnabled bool

	// JitterMax caps the added jitter. The effective bound per delay is
	// min(JitterMax, delay/10).
	// Default: 100 milliseconds
	JitterMax time.Duration

	// Condition selects the retry-decision mode.
	// Default: RetryAnyError
	Condition RetryCondition

	// RetryableKinds lists the error kinds retried under RetryNamedKinds.
	RetryableKinds []ErrorKind

	// NonRetryableKinds lists error kinds that are never retried. Checked
	// before RetryableKinds and always wins.
	NonRetryableKinds []ErrorKind

	// Timeout is an optional wall-clock cap over the whole execution,
	// including backoff waits. Zero means no cap; when set it must be at
	// least one millisecond.
	Timeout time.Duration

	// CustomDelay supplies the delay for StrategyCustom. Required for that
	// strategy, ignored otherwise. Must be a pure function of the attempt
	// number.
	CustomDelay func(attempt int) time.Duration

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics receives terminal success/failure events.
	// Default: no-op
	Metrics Metrics

	// Clock supplies the current time. Injectable for tests.
	// Default: time.Now
	Clock func() time.Time
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithStrategy selects the backoff strategy.
func WithStrategy(kind StrategyKind) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = kind
	}
}

// WithMaxAttempts sets the maximum number of attempts, including the initial
// call.
//
// Example:
//
//	effects.WithMaxAttempts(5) // Try up to 5 times total
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithLinearBackoff configures linear backoff: delay = baseDelay * attempt,
// clamped to maxDelay.
//
// Example:
//
//	effects.WithLinearBackoff(100*time.Millisecond, time.Second)
//	// Ceilings: 100ms, 200ms, 300ms, ... capped at 1s
func WithLinearBackoff(baseDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = StrategyLinear
		c.BaseDelay = baseDelay
		c.MaxDelay = maxDelay
	}
}

// WithExponentialBackoff configures exponential backoff:
// delay = baseDelay * multiplier^(attempt-1), clamped to maxDelay.
//
// Example:
//
//	effects.WithExponentialBackoff(time.Second, 30*time.Second)
//	// With default multiplier 2.0: 1s, 2s, 4s, 8s, 16s, 30s (capped)
func WithExponentialBackoff(baseDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = StrategyExponential
		c.BaseDelay = baseDelay
		c.MaxDelay = maxDelay
	}
}

// WithJitteredExponentialBackoff configures full-jitter exponential backoff:
// the delay is drawn uniformly from [0, ceiling] where ceiling is the clamped
// exponential delay. Recommended for fan-in dependencies to avoid retry
// storms.
func WithJitteredExponentialBackoff(baseDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = StrategyJitteredExponential
		c.BaseDelay = baseDelay
		c.MaxDelay = maxDelay
	}
}

// WithFibonacciBackoff configures fibonacci backoff:
// delay = baseDelay * fib(attempt), clamped to maxDelay.
//
// Example:
//
//	effects.WithFibonacciBackoff(time.Second, 30*time.Second)
//	// Ceilings: 1s, 1s, 2s, 3s, 5s, 8s, 13s, 21s, 30s (capped)
func WithFibonacciBackoff(baseDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = StrategyFibonacci
		c.BaseDelay = baseDelay
		c.MaxDelay = maxDelay
	}
}

// WithCustomBackoff configures a caller-supplied delay function. The computed
// delay is clamped to the configured MaxDelay and no jitter is added.
func WithCustomBackoff(fn func(attempt int) time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = StrategyCustom
		c.CustomDelay = fn
	}
}

// WithMultiplier sets the growth factor for the exponential strategies.
//
// Example:
//
//	effects.WithMultiplier(1.5) // 50% growth per retry
func WithMultiplier(multiplier float64) RetryOption {
	return func(c *RetryConfig) {
		c.Multiplier = multiplier
	}
}

// WithJitterDisabled turns off the bounded jitter for the linear,
// exponential, and fibonacci strategies. Delays become fully deterministic.
func WithJitterDisabled() RetryOption {
	return func(c *RetryConfig) {
		c.JitterEnabled = false
	}
}

// WithJitterMax caps the random amount added to each delay.
func WithJitterMax(max time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.JitterMax = max
	}
}

// WithRetryCondition selects the retry-decision mode.
func WithRetryCondition(condition RetryCondition) RetryOption {
	return func(c *RetryConfig) {
		c.Condition = condition
	}
}

// WithRetryableKinds lists the error kinds retried under RetryNamedKinds.
//
// Example:
//
//	effects.WithRetryCondition(effects.RetryNamedKinds),
//	effects.WithRetryableKinds(effects.KindTimeout, effects.KindUnavailable)
func WithRetryableKinds(kinds ...ErrorKind) RetryOption {
	return func(c *RetryConfig) {
		c.RetryableKinds = kinds
	}
}

// WithNonRetryableKinds lists error kinds that are never retried, regardless
// of the retry-decision mode.
func WithNonRetryableKinds(kinds ...ErrorKind) RetryOption {
	return func(c *RetryConfig) {
		c.NonRetryableKinds = kinds
	}
}

// WithExecutionTimeout caps the total wall-clock time of an execution,
// including backoff waits. The deadline is cooperative: it stops further
// attempts and waits but never interrupts an in-flight operation.
func WithExecutionTimeout(timeout time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Timeout = timeout
	}
}

// WithRetryLogger sets a custom logger for retry operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	effects.WithRetryLogger(logger)
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// WithRetryMetrics sets the metrics sink for terminal outcome events.
func WithRetryMetrics(metrics Metrics) RetryOption {
	return func(c *RetryConfig) {
		c.Metrics = metrics
	}
}

// WithRetryClock injects the time source used for deadlines and attempt
// durations. Intended for tests.
func WithRetryClock(clock func() time.Time) RetryOption {
	return func(c *RetryConfig) {
		c.Clock = clock
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Strategy:      StrategyExponential,
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
		JitterMax:     100 * time.Millisecond,
		Condition:     RetryAnyError,
	}
}

// Validate checks the configuration ranges. It is called by NewExecutor and
// NewCoordinator; misconfiguration is fatal at construction time.
func (c *RetryConfig) Validate() error {
	switch c.Strategy {
	case StrategyLinear, StrategyExponential, StrategyJitteredExponential, StrategyFibonacci:
	case StrategyCustom:
		if c.CustomDelay == nil {
			return errors.New("retry config: custom strategy requires a delay function")
		}
	default:
		return fmt.Errorf("retry config: unknown strategy %q", c.Strategy)
	}

	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("retry config: max attempts %d outside [1, 10]", c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("retry config: base delay %v is negative", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry config: max delay %v below base delay %v", c.MaxDelay, c.BaseDelay)
	}
	if c.Multiplier < 1.0 || c.Multiplier > 10.0 {
		return fmt.Errorf("retry config: multiplier %v outside [1.0, 10.0]", c.Multiplier)
	}
	if c.JitterMax < 0 {
		return fmt.Errorf("retry config: jitter max %v is negative", c.JitterMax)
	}
	if c.Timeout != 0 && c.Timeout < time.Millisecond {
		return fmt.Errorf("retry config: timeout %v below 1ms", c.Timeout)
	}

	switch c.Condition {
	case RetryAnyError, RetryNamedKinds:
	default:
		return fmt.Errorf("retry config: unknown retry condition %q", c.Condition)
	}

	return nil
}

// clone returns a shallow copy so per-operation overrides never mutate a
// shared config.
func (c *RetryConfig) clone() *RetryConfig {
	dup := *c
	return &dup
}

// BreakerConfig holds circuit breaker configuration options.
type BreakerConfig struct {
	// Enabled toggles the breaker. A disabled breaker always admits and
	// never records.
	// Default: true
	Enabled bool

	// FailureThreshold opens the breaker once this many failures accumulate
	// in the sliding window. Must be in [1, 100].
	// Default: 5
	FailureThreshold int

	// SuccessThreshold closes a half-open breaker after this many successes.
	// Must be in [1, 20].
	// Default: 2
	SuccessThreshold int

	// FailureRateThreshold opens the breaker once failures/total reaches
	// this ratio. Must be in [0.0, 1.0].
	// Default: 0.5
	FailureRateThreshold float64

	// MinimumRequests gates both open conditions: the breaker never opens
	// before this many requests are in the window, even if every one failed.
	// Default: 10
	MinimumRequests int

	// WindowSize is the sliding window over which failure data stays
	// current. Counters reset when the most recent failure is older.
	// Default: 60 seconds
	WindowSize time.Duration

	// Timeout is how long an open breaker waits before allowing a half-open
	// probe. Must be in [10s, 3600s].
	// Default: 60 seconds
	Timeout time.Duration

	// HalfOpenMaxRequests caps concurrent probe requests in half-open state.
	// Default: 3
	HalfOpenMaxRequests int

	// SlowCallThreshold treats successful calls at least this slow as
	// failures. Zero disables slow-call tracking.
	SlowCallThreshold time.Duration

	// OnStateChange is called whenever the breaker changes state. It runs
	// under the breaker lock and must not call back into the breaker.
	OnStateChange func(name string, from, to BreakerState)

	// Logger for breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Clock supplies the current time. Injectable for tests.
	// Default: time.Now
	Clock func() time.Time
}

// BreakerOption is a functional option for configuring circuit breaker
// behavior.
type BreakerOption func(*BreakerConfig)

// WithBreakerEnabled toggles the breaker. Disabled breakers always admit.
func WithBreakerEnabled(enabled bool) BreakerOption {
	return func(c *BreakerConfig) {
		c.Enabled = enabled
	}
}

// WithFailureThreshold sets the absolute failure count that opens the breaker.
func WithFailureThreshold(threshold int) BreakerOption {
	return func(c *BreakerConfig) {
		c.FailureThreshold = threshold
	}
}

// WithSuccessThreshold sets the successes needed to close a half-open breaker.
func WithSuccessThreshold(threshold int) BreakerOption {
	return func(c *BreakerConfig) {
		c.SuccessThreshold = threshold
	}
}

// WithFailureRateThreshold sets the failure ratio that opens the breaker.
//
// Example:
//
//	effects.WithFailureRateThreshold(0.5) // open at 50% failures
func WithFailureRateThreshold(threshold float64) BreakerOption {
	return func(c *BreakerConfig) {
		c.FailureRateThreshold = threshold
	}
}

// WithMinimumRequests sets the request count below which the breaker never
// opens, preventing trips on statistically insignificant samples.
func WithMinimumRequests(min int) BreakerOption {
	return func(c *BreakerConfig) {
		c.MinimumRequests = min
	}
}

// WithWindowSize sets the sliding window over which failures stay current.
func WithWindowSize(window time.Duration) BreakerOption {
	return func(c *BreakerConfig) {
		c.WindowSize = window
	}
}

// WithBreakerTimeout sets how long the breaker stays open before probing.
//
// Example:
//
//	effects.WithBreakerTimeout(60 * time.Second)
func WithBreakerTimeout(timeout time.Duration) BreakerOption {
	return func(c *BreakerConfig) {
		c.Timeout = timeout
	}
}

// WithHalfOpenMaxRequests caps probe requests admitted in half-open state.
func WithHalfOpenMaxRequests(max int) BreakerOption {
	return func(c *BreakerConfig) {
		c.HalfOpenMaxRequests = max
	}
}

// WithSlowCallThreshold treats calls at least this slow as failures.
func WithSlowCallThreshold(threshold time.Duration) BreakerOption {
	return func(c *BreakerConfig) {
		c.SlowCallThreshold = threshold
	}
}

// WithStateChangeHandler sets a callback for breaker state changes.
//
// Example:
//
//	effects.WithStateChangeHandler(func(name string, from, to effects.BreakerState) {
//	    log.Printf("breaker %s: %s -> %s", name, from, to)
//	})
func WithStateChangeHandler(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(c *BreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithBreakerLogger sets a custom logger for breaker operations.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(c *BreakerConfig) {
		c.Logger = logger
	}
}

// WithBreakerClock injects the time source used for window and timeout
// arithmetic. Intended for tests.
func WithBreakerClock(clock func() time.Time) BreakerOption {
	return func(c *BreakerConfig) {
		c.Clock = clock
	}
}

// DefaultBreakerConfig returns circuit breaker configuration with sensible
// defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Enabled:              true,
		FailureThreshold:     5,
		SuccessThreshold:     2,
		FailureRateThreshold: 0.5,
		MinimumRequests:      10,
		WindowSize:           60 * time.Second,
		Timeout:              60 * time.Second,
		HalfOpenMaxRequests:  3,
	}
}

// Validate checks the configuration ranges.
func (c *BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 || c.FailureThreshold > 100 {
		return fmt.Errorf("breaker config: failure threshold %d outside [1, 100]", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 || c.SuccessThreshold > 20 {
		return fmt.Errorf("breaker config: success threshold %d outside [1, 20]", c.SuccessThreshold)
	}
	if c.FailureRateThreshold < 0 || c.FailureRateThreshold > 1 {
		return fmt.Errorf("breaker config: failure rate threshold %v outside [0.0, 1.0]", c.FailureRateThreshold)
	}
	if c.MinimumRequests < 0 {
		return fmt.Errorf("breaker config: minimum requests %d is negative", c.MinimumRequests)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("breaker config: window size %v must be positive", c.WindowSize)
	}
	if c.Timeout < 10*time.Second || c.Timeout > 3600*time.Second {
		return fmt.Errorf("breaker config: timeout %v outside [10s, 3600s]", c.Timeout)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("breaker config: half-open max requests %d below 1", c.HalfOpenMaxRequests)
	}
	if c.SlowCallThreshold < 0 {
		return fmt.Errorf("breaker config: slow call threshold %v is negative", c.SlowCallThreshold)
	}
	return nil
}

// clone returns a shallow copy so each breaker owns its configuration.
func (c *BreakerConfig) clone() *BreakerConfig {
	dup := *c
	return &dup
}
