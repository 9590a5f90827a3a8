package effects

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ExecutionMode determines how the coordinator reacts to a failed operation.
type ExecutionMode string

const (
	// SequentialAbort stops the run at the first failed operation.
	SequentialAbort ExecutionMode = "sequential_abort"

	// SequentialContinue records every failure and keeps going.
	SequentialContinue ExecutionMode = "sequential_continue"
)

// Fields carries the result payload a handler extracted for reporting.
type Fields map[string]any

// Handler is an injected callable for one handler type. Handlers classify
// their own errors with WrapKind (or a Kinder implementation) so retry
// decisions can match on kinds.
type Handler func(ctx context.Context, op HandlerOperation) (Fields, error)

// HandlerOperation is one declared operation in an ordered effect list.
// It is supplied by the contract layer; the coordinator treats it as opaque
// input apart from the routing fields below.
type HandlerOperation struct {
	// Name identifies the operation in results and logs.
	Name string `json:"name"`

	// HandlerType keys the registered handler and its circuit breaker.
	HandlerType string `json:"handler_type"`

	// Retry overrides the coordinator's default retry config for this
	// operation. Nil means use the default.
	Retry *RetryConfig `json:"-"`
}

// OperationOutcome is the terminal result of one operation in a run.
type OperationOutcome struct {
	// Operation is the operation name.
	Operation string `json:"operation"`

	// Success reports whether the operation eventually succeeded.
	Success bool `json:"success"`

	// Retries counts attempts after the first.
	Retries int `json:"retries"`

	// Duration spans all attempts and backoff waits for this operation.
	Duration time.Duration `json:"duration"`

	// Fields holds the handler's extracted result payload, if any.
	Fields Fields `json:"fields,omitempty"`

	// Error holds the terminal error message when the operation failed.
	Error string `json:"error,omitempty"`

	// ErrorKind classifies the terminal error.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Result aggregates a whole coordinator run.
type Result struct {
	// Success is the AND of every operation outcome.
	Success bool `json:"success"`

	// Outcomes lists one entry per attempted (or denied) operation, in
	// declaration order.
	Outcomes []OperationOutcome `json:"outcomes"`

	// FailedOperation names the first failed operation, empty if none.
	FailedOperation string `json:"failed_operation,omitempty"`

	// TotalDuration spans the whole run.
	TotalDuration time.Duration `json:"total_duration"`

	// BreakerStates snapshots the state of every breaker touched by the run,
	// keyed by handler type.
	BreakerStates map[string]string `json:"breaker_states"`
}

// CoordinatorConfig holds coordinator configuration options.
type CoordinatorConfig struct {
	// Mode selects abort/continue semantics.
	// Default: SequentialAbort
	Mode ExecutionMode

	// DefaultRetry applies to operations without their own retry config.
	// Default: DefaultRetryConfig()
	DefaultRetry *RetryConfig

	// Breaker is the template config for lazily created per-handler-type
	// breakers.
	// Default: DefaultBreakerConfig()
	Breaker *BreakerConfig

	// Logger for coordinator operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics receives outcome and rejection events.
	// Default: no-op
	Metrics Metrics
}

// CoordinatorOption is a functional option for configuring a Coordinator.
type CoordinatorOption func(*CoordinatorConfig)

// WithExecutionMode selects abort/continue semantics for failed operations.
func WithExecutionMode(mode ExecutionMode) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		c.Mode = mode
	}
}

// WithDefaultRetry sets the retry config for operations without their own.
func WithDefaultRetry(cfg *RetryConfig) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		c.DefaultRetry = cfg
	}
}

// WithBreakerConfig sets the template for lazily created breakers.
func WithBreakerConfig(cfg *BreakerConfig) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		c.Breaker = cfg
	}
}

// WithCoordinatorLogger sets a custom logger for coordinator operations.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		c.Logger = logger
	}
}

// WithCoordinatorMetrics sets the metrics sink for run telemetry.
func WithCoordinatorMetrics(metrics Metrics) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		c.Metrics = metrics
	}
}

// Coordinator runs ordered lists of declared operations. It owns a handler
// registry and a per-handler-type circuit breaker map by composition; two
// coordinators in one process never share breaker state.
//
// Operations within one Run execute strictly sequentially. Concurrent Run
// calls are safe: breaker mutations are serialized per breaker, and the
// registry is guarded for lazy creation.
type Coordinator struct {
	mode         ExecutionMode
	defaultRetry *RetryConfig
	breakerCfg   *BreakerConfig
	logger       *slog.Logger
	metrics      Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	breakers map[string]*CircuitBreaker
}

// NewCoordinator creates a Coordinator from the provided options.
// Configuration errors are fatal here.
func NewCoordinator(opts ...CoordinatorOption) (*Coordinator, error) {
	cfg := &CoordinatorConfig{
		Mode:         SequentialAbort,
		DefaultRetry: DefaultRetryConfig(),
		Breaker:      DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch cfg.Mode {
	case SequentialAbort, SequentialContinue:
	default:
		return nil, fmt.Errorf("coordinator config: unknown execution mode %q", cfg.Mode)
	}

	if cfg.DefaultRetry == nil {
		cfg.DefaultRetry = DefaultRetryConfig()
	}
	if err := cfg.DefaultRetry.Validate(); err != nil {
		return nil, err
	}
	if cfg.Breaker == nil {
		cfg.Breaker = DefaultBreakerConfig()
	}
	if err := cfg.Breaker.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics()
	}

	breakerCfg := cfg.Breaker.clone()
	if breakerCfg.Logger == nil {
		breakerCfg.Logger = cfg.Logger
	}

	return &Coordinator{
		mode:         cfg.Mode,
		defaultRetry: cfg.DefaultRetry.clone(),
		breakerCfg:   breakerCfg,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		handlers:     make(map[string]Handler),
		breakers:     make(map[string]*CircuitBreaker),
	}, nil
}

// Register installs the handler for a handler type and lazily creates the
// type's circuit breaker on first registration. Registering the same type
// again replaces the handler but keeps the breaker and its state.
func (c *Coordinator) Register(handlerType string, handler Handler) error {
	if handlerType == "" {
		return fmt.Errorf("handler type must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for type %q must not be nil", handlerType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[handlerType] = handler
	if _, ok := c.breakers[handlerType]; !ok {
		cb, err := NewCircuitBreakerFromConfig(handlerType, c.breakerCfg)
		if err != nil {
			return err
		}
		c.breakers[handlerType] = cb
	}
	return nil
}

// Breaker returns the circuit breaker for a handler type, if one exists.
// Useful for operator overrides (ForceOpen, Reset) and inspection.
func (c *Coordinator) Breaker(handlerType string) (*CircuitBreaker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.breakers[handlerType]
	return cb, ok
}

// Run executes the operations in order. Every operation resolves its handler
// and breaker, passes the breaker's admission check, and runs through a retry
// executor; the breaker is updated from the terminal outcome. Failures become
// structured outcomes, never raised errors.
func (c *Coordinator) Run(ctx context.Context, ops []HandlerOperation) *Result {
	start := time.Now()

	result := &Result{
		Success:       true,
		BreakerStates: make(map[string]string),
	}
	touched := make(map[string]*CircuitBreaker)

	for _, op := range ops {
		handler, cb := c.resolve(op.HandlerType)
		if cb != nil {
			touched[op.HandlerType] = cb
		}

		outcome, abort := c.runOperation(ctx, op, handler, cb)
		result.Outcomes = append(result.Outcomes, outcome)

		if !outcome.Success {
			result.Success = false
			if result.FailedOperation == "" {
				result.FailedOperation = outcome.Operation
			}
			if abort {
				break
			}
		}
	}

	for handlerType, cb := range touched {
		result.BreakerStates[handlerType] = cb.State().String()
	}
	result.TotalDuration = time.Since(start)

	c.logger.Info("effect run finished",
		"operations", len(result.Outcomes),
		"success", result.Success,
		"failed_operation", result.FailedOperation,
		"duration", result.TotalDuration)

	return result
}

// runOperation executes one operation and reports whether a failure should
// abort the run.
func (c *Coordinator) runOperation(ctx context.Context, op HandlerOperation, handler Handler, cb *CircuitBreaker) (OperationOutcome, bool) {
	abortOnFailure := c.mode == SequentialAbort

	if cb != nil && !cb.Allow() {
		err := cb.openError(op.Name)
		c.logger.Warn("operation rejected by circuit breaker",
			"operation", op.Name,
			"handler_type", op.HandlerType,
			"state", cb.State().String())
		c.metrics.RecordRejection(ctx, op.HandlerType, "circuit_open")

		return OperationOutcome{
			Operation: op.Name,
			Success:   false,
			Error:     fmt.Sprintf("circuit breaker open for handler type %q: %s", op.HandlerType, err.Error()),
			ErrorKind: KindUnavailable,
		}, abortOnFailure
	}

	if handler == nil {
		c.logger.Error("no handler registered",
			"operation", op.Name,
			"handler_type", op.HandlerType)
		c.metrics.RecordRejection(ctx, op.HandlerType, "no_handler")

		return OperationOutcome{
			Operation: op.Name,
			Success:   false,
			Error:     fmt.Sprintf("no handler registered for type %q", op.HandlerType),
			ErrorKind: KindValidation,
		}, abortOnFailure
	}

	retryCfg := op.Retry
	if retryCfg == nil {
		retryCfg = c.defaultRetry
	}
	retryCfg = retryCfg.clone()
	if retryCfg.Logger == nil {
		retryCfg.Logger = c.logger
	}
	if retryCfg.Metrics == nil {
		retryCfg.Metrics = c.metrics
	}

	executor, err := NewExecutorFromConfig[Fields](retryCfg)
	if err != nil {
		// Per-operation config is caller input, so a bad one becomes a failed
		// outcome instead of a panic.
		return OperationOutcome{
			Operation: op.Name,
			Success:   false,
			Error:     err.Error(),
			ErrorKind: KindValidation,
		}, abortOnFailure
	}

	exec := executor.Execute(ctx, op.Name, func(ctx context.Context) (Fields, error) {
		return handler(ctx, op)
	})

	// A deadline can expire before the first attempt, leaving zero attempts.
	retries := exec.TotalAttempts - 1
	if retries < 0 {
		retries = 0
	}

	outcome := OperationOutcome{
		Operation: op.Name,
		Success:   exec.Success,
		Retries:   retries,
		Duration:  exec.TotalDuration,
		Fields:    exec.Result,
	}

	if exec.Success {
		if cb != nil {
			cb.RecordSuccess()
			if n := len(exec.Attempts); n > 0 {
				// Slow-call tracking looks at the call itself, not the
				// backoff waits before it.
				cb.RecordSlowCall(exec.Attempts[n-1].Duration)
			}
		}
		return outcome, false
	}

	if cb != nil {
		cb.RecordFailure()
	}
	if exec.Err != nil {
		outcome.Error = exec.Err.Error()
		outcome.ErrorKind = KindOf(exec.Err)
	}
	return outcome, abortOnFailure
}

// Validate reports, without executing anything, which operations lack a
// registered handler or target a breaker currently open. An empty slice
// means the list would be admitted as-is.
func (c *Coordinator) Validate(ops []HandlerOperation) []string {
	var problems []string

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, op := range ops {
		if _, ok := c.handlers[op.HandlerType]; !ok {
			problems = append(problems, fmt.Sprintf("operation %q: no handler registered for type %q", op.Name, op.HandlerType))
			continue
		}
		if cb, ok := c.breakers[op.HandlerType]; ok && cb.State() == StateOpen {
			problems = append(problems, fmt.Sprintf("operation %q: circuit breaker open for type %q", op.Name, op.HandlerType))
		}
	}
	return problems
}

// Health returns a health snapshot for every registered handler type's
// breaker, keyed by handler type.
func (c *Coordinator) Health() map[string]HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	health := make(map[string]HealthStatus, len(c.breakers))
	for handlerType, cb := range c.breakers {
		health[handlerType] = cb.Health()
	}
	return health
}

// resolve looks up the handler and breaker for a handler type.
func (c *Coordinator) resolve(handlerType string) (Handler, *CircuitBreaker) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[handlerType], c.breakers[handlerType]
}
