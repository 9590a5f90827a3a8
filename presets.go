package effects

import "time"

// Named presets for common dependency classes. Each call returns a fresh
// config, so callers can tweak the result without affecting anyone else;
// there is no shared preset state in the package.

// APIRetryConfig returns a retry config tuned for remote HTTP APIs:
// full-jitter exponential backoff so concurrent callers spread out, a
// moderate attempt cap, and a 30 second overall deadline.
func APIRetryConfig() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Strategy = StrategyJitteredExponential
	cfg.MaxAttempts = 3
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = 10 * time.Second
	cfg.Timeout = 30 * time.Second
	cfg.Condition = RetryNamedKinds
	cfg.RetryableKinds = []ErrorKind{KindTimeout, KindUnavailable, KindRateLimited, KindInternal}
	cfg.NonRetryableKinds = []ErrorKind{KindValidation}
	return cfg
}

// DatabaseRetryConfig returns a retry config tuned for databases: fast
// exponential backoff with more attempts, since transient lock conflicts and
// failovers usually clear quickly.
func DatabaseRetryConfig() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Strategy = StrategyExponential
	cfg.MaxAttempts = 5
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxDelay = 5 * time.Second
	cfg.Timeout = 15 * time.Second
	cfg.Condition = RetryNamedKinds
	cfg.RetryableKinds = []ErrorKind{KindTimeout, KindUnavailable, KindConflict}
	cfg.NonRetryableKinds = []ErrorKind{KindValidation, KindNotFound}
	return cfg
}

// FilesystemRetryConfig returns a retry config tuned for local filesystem
// operations: short linear backoff, failures here are either momentary or
// permanent.
func FilesystemRetryConfig() *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Strategy = StrategyLinear
	cfg.MaxAttempts = 3
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second
	cfg.Timeout = 5 * time.Second
	return cfg
}

// APIBreakerConfig returns a breaker config tuned for remote HTTP APIs,
// including slow-call tracking so a degraded upstream trips the breaker
// before it times everyone out.
func APIBreakerConfig() *BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 5
	cfg.FailureRateThreshold = 0.5
	cfg.MinimumRequests = 10
	cfg.Timeout = 60 * time.Second
	cfg.SlowCallThreshold = 5 * time.Second
	return cfg
}

// DatabaseBreakerConfig returns a breaker config tuned for databases: a
// lower failure bar and a shorter cooldown, since a wedged pool recovers
// fast once the pressure stops.
func DatabaseBreakerConfig() *BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 3
	cfg.FailureRateThreshold = 0.5
	cfg.MinimumRequests = 5
	cfg.Timeout = 30 * time.Second
	return cfg
}
