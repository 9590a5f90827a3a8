package effects

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration surface for the engine. Durations
// are plain integers in the unit named by the key.
//
//	retry:
//	  strategy: exponential
//	  max_attempts: 5
//	  base_delay_ms: 100
//	  max_delay_ms: 5000
//	  backoff_multiplier: 2.0
//	  jitter_enabled: true
//	  jitter_max_ms: 50
//	  timeout_ms: 30000
//	  retry_condition: named_kinds
//	  retryable_kinds: [timeout, unavailable]
//	  non_retryable_kinds: [validation]
//	circuit_breaker:
//	  enabled: true
//	  failure_threshold: 5
//	  success_threshold: 2
//	  failure_rate_threshold: 0.5
//	  minimum_request_threshold: 10
//	  window_size_seconds: 60
//	  timeout_seconds: 60
//	  half_open_max_requests: 3
//	  slow_call_duration_threshold_ms: 2000
//	execution_mode: sequential_abort
//
// The custom strategy cannot be selected from a file; it requires an injected
// delay function.
type FileConfig struct {
	Retry          *RetryFileConfig   `yaml:"retry"`
	CircuitBreaker *BreakerFileConfig `yaml:"circuit_breaker"`
	ExecutionMode  string             `yaml:"execution_mode"`
}

// RetryFileConfig mirrors RetryConfig with file-friendly field types.
// Unset fields keep their defaults.
type RetryFileConfig struct {
	Strategy          string   `yaml:"strategy"`
	MaxAttempts       *int     `yaml:"max_attempts"`
	BaseDelayMS       *int     `yaml:"base_delay_ms"`
	MaxDelayMS        *int     `yaml:"max_delay_ms"`
	BackoffMultiplier *float64 `yaml:"backoff_multiplier"`
	JitterEnabled     *bool    `yaml:"jitter_enabled"`
	JitterMaxMS       *int     `yaml:"jitter_max_ms"`
	TimeoutMS         *int     `yaml:"timeout_ms"`
	RetryCondition    string   `yaml:"retry_condition"`
	RetryableKinds    []string `yaml:"retryable_kinds"`
	NonRetryableKinds []string `yaml:"non_retryable_kinds"`
}

// BreakerFileConfig mirrors BreakerConfig with file-friendly field types.
type BreakerFileConfig struct {
	Enabled                     *bool    `yaml:"enabled"`
	FailureThreshold            *int     `yaml:"failure_threshold"`
	SuccessThreshold            *int     `yaml:"success_threshold"`
	FailureRateThreshold        *float64 `yaml:"failure_rate_threshold"`
	MinimumRequestThreshold     *int     `yaml:"minimum_request_threshold"`
	WindowSizeSeconds           *int     `yaml:"window_size_seconds"`
	TimeoutSeconds              *int     `yaml:"timeout_seconds"`
	HalfOpenMaxRequests         *int     `yaml:"half_open_max_requests"`
	SlowCallDurationThresholdMS *int     `yaml:"slow_call_duration_threshold_ms"`
}

// ParseConfig decodes a YAML document into a FileConfig. Range validation
// happens when the typed configs are built.
func ParseConfig(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// BuildRetryConfig converts the file fields into a validated RetryConfig,
// starting from defaults so unset keys keep their documented values.
func (f *FileConfig) BuildRetryConfig() (*RetryConfig, error) {
	cfg := DefaultRetryConfig()
	r := f.Retry
	if r == nil {
		return cfg, nil
	}

	if r.Strategy != "" {
		kind := StrategyKind(r.Strategy)
		if kind == StrategyCustom {
			return nil, fmt.Errorf("config: custom strategy requires an injected delay function and cannot be selected from a file")
		}
		cfg.Strategy = kind
	}
	if r.MaxAttempts != nil {
		cfg.MaxAttempts = *r.MaxAttempts
	}
	if r.BaseDelayMS != nil {
		cfg.BaseDelay = time.Duration(*r.BaseDelayMS) * time.Millisecond
	}
	if r.MaxDelayMS != nil {
		cfg.MaxDelay = time.Duration(*r.MaxDelayMS) * time.Millisecond
	}
	if r.BackoffMultiplier != nil {
		cfg.Multiplier = *r.BackoffMultiplier
	}
	if r.JitterEnabled != nil {
		cfg.JitterEnabled = *r.JitterEnabled
	}
	if r.JitterMaxMS != nil {
		cfg.JitterMax = time.Duration(*r.JitterMaxMS) * time.Millisecond
	}
	if r.TimeoutMS != nil {
		cfg.Timeout = time.Duration(*r.TimeoutMS) * time.Millisecond
	}
	if r.RetryCondition != "" {
		cfg.Condition = RetryCondition(r.RetryCondition)
	}
	cfg.RetryableKinds = toKinds(r.RetryableKinds)
	cfg.NonRetryableKinds = toKinds(r.NonRetryableKinds)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildBreakerConfig converts the file fields into a validated BreakerConfig.
func (f *FileConfig) BuildBreakerConfig() (*BreakerConfig, error) {
	cfg := DefaultBreakerConfig()
	b := f.CircuitBreaker
	if b == nil {
		return cfg, nil
	}

	if b.Enabled != nil {
		cfg.Enabled = *b.Enabled
	}
	if b.FailureThreshold != nil {
		cfg.FailureThreshold = *b.FailureThreshold
	}
	if b.SuccessThreshold != nil {
		cfg.SuccessThreshold = *b.SuccessThreshold
	}
	if b.FailureRateThreshold != nil {
		cfg.FailureRateThreshold = *b.FailureRateThreshold
	}
	if b.MinimumRequestThreshold != nil {
		cfg.MinimumRequests = *b.MinimumRequestThreshold
	}
	if b.WindowSizeSeconds != nil {
		cfg.WindowSize = time.Duration(*b.WindowSizeSeconds) * time.Second
	}
	if b.TimeoutSeconds != nil {
		cfg.Timeout = time.Duration(*b.TimeoutSeconds) * time.Second
	}
	if b.HalfOpenMaxRequests != nil {
		cfg.HalfOpenMaxRequests = *b.HalfOpenMaxRequests
	}
	if b.SlowCallDurationThresholdMS != nil {
		cfg.SlowCallThreshold = time.Duration(*b.SlowCallDurationThresholdMS) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BuildExecutionMode returns the configured execution mode, defaulting to
// SequentialAbort.
func (f *FileConfig) BuildExecutionMode() (ExecutionMode, error) {
	if f.ExecutionMode == "" {
		return SequentialAbort, nil
	}
	mode := ExecutionMode(f.ExecutionMode)
	switch mode {
	case SequentialAbort, SequentialContinue:
		return mode, nil
	default:
		return "", fmt.Errorf("config: unknown execution mode %q", f.ExecutionMode)
	}
}

// CoordinatorOptions expands the file into options for NewCoordinator.
func (f *FileConfig) CoordinatorOptions() ([]CoordinatorOption, error) {
	retryCfg, err := f.BuildRetryConfig()
	if err != nil {
		return nil, err
	}
	breakerCfg, err := f.BuildBreakerConfig()
	if err != nil {
		return nil, err
	}
	mode, err := f.BuildExecutionMode()
	if err != nil {
		return nil, err
	}

	return []CoordinatorOption{
		WithExecutionMode(mode),
		WithDefaultRetry(retryCfg),
		WithBreakerConfig(breakerCfg),
	}, nil
}

func toKinds(names []string) []ErrorKind {
	if len(names) == 0 {
		return nil
	}
	kinds := make([]ErrorKind, len(names))
	for i, name := range names {
		kinds[i] = ErrorKind(name)
	}
	return kinds
}
