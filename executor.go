package effects

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Operation is a retriable unit of work. The executor never interrupts a
// running operation; implementations should honor ctx themselves.
type Operation[T any] func(ctx context.Context) (T, error)

// AttemptRecord captures the telemetry of a single attempt.
type AttemptRecord struct {
	// Attempt is the 1-based attempt number.
	Attempt int `json:"attempt"`

	// Success reports whether this attempt completed without error.
	Success bool `json:"success"`

	// Duration is the wall-clock time of the attempt itself.
	Duration time.Duration `json:"duration"`

	// Delay is the backoff waited before this attempt. Zero for the first.
	Delay time.Duration `json:"delay,omitempty"`

	// Error holds the attempt's error message, if any.
	Error string `json:"error,omitempty"`
}

// ExecutionOutcome is the structured result of one retried execution.
// Attempt telemetry is always populated, regardless of overall success.
type ExecutionOutcome[T any] struct {
	// Result is the final value. Zero when the execution failed.
	Result T `json:"result"`

	// Success reports whether any attempt succeeded.
	Success bool `json:"success"`

	// TotalAttempts counts the attempts actually made.
	TotalAttempts int `json:"total_attempts"`

	// TotalDuration spans the whole execution including backoff waits.
	TotalDuration time.Duration `json:"total_duration"`

	// Attempts holds one record per attempt, in order.
	Attempts []AttemptRecord `json:"attempts"`

	// Err is the final attempt's error when the execution failed. Earlier
	// attempt errors survive only in the Attempts trail.
	Err error `json:"-"`
}

// Executor drives an operation through a retry Strategy. A single Execute
// call is single-threaded; the Executor itself may be shared across
// goroutines.
type Executor[T any] struct {
	cfg      *RetryConfig
	strategy Strategy
	logger   *slog.Logger
	metrics  Metrics
	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	stats    *executorStats
}

// executorStats tracks cumulative executor statistics.
type executorStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewExecutor creates an Executor from the provided options. Configuration
// errors (out-of-range fields, custom strategy without a delay function) are
// fatal here rather than at execution time.
//
// Example:
//
//	exec, err := effects.NewExecutor[string](
//	    effects.WithMaxAttempts(5),
//	    effects.WithExponentialBackoff(time.Second, 30*time.Second),
//	)
func NewExecutor[T any](opts ...RetryOption) (*Executor[T], error) {
	cfg := DefaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewExecutorFromConfig[T](cfg)
}

// NewExecutorFromConfig creates an Executor from a prebuilt config, e.g. a
// preset or a parsed configuration file.
func NewExecutorFromConfig[T any](cfg *RetryConfig) (*Executor[T], error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	} else {
		cfg = cfg.clone()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	strategy, err := NewStrategy(cfg)
	if err != nil {
		return nil, err
	}

	return &Executor[T]{
		cfg:      cfg,
		strategy: strategy,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		sleep:    sleepContext,
		stats:    &executorStats{},
	}, nil
}

// Execute runs the operation until it succeeds, the strategy declines a
// retry, the attempt cap is reached, or the overall deadline expires. The
// returned outcome is always structured; per-attempt errors are never raised
// directly.
//
// The deadline is cooperative: it is checked before each wait and before each
// attempt, and a wait that would cross it is skipped entirely. An in-flight
// operation is never interrupted.
func (e *Executor[T]) Execute(ctx context.Context, name string, op Operation[T]) *ExecutionOutcome[T] {
	start := e.clock()

	var deadline time.Time
	if e.cfg.Timeout > 0 {
		deadline = start.Add(e.cfg.Timeout)
	}

	out := &ExecutionOutcome[T]{}
	backoff := e.strategy.Backoff()
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		now := e.clock()
		if !deadline.IsZero() && !now.Before(deadline) {
			e.logger.Debug("retry deadline reached, stopping",
				"operation", name,
				"attempt", attempt)
			break
		}

		var delay time.Duration
		if attempt > 1 {
			d, stop := backoff.Next()
			if stop {
				break
			}
			delay = d

			if !deadline.IsZero() && !now.Add(delay).Before(deadline) {
				e.logger.Debug("backoff would cross deadline, stopping",
					"operation", name,
					"attempt", attempt,
					"delay", delay)
				break
			}
			if delay > 0 {
				if err := e.sleep(ctx, delay); err != nil {
					lastErr = err
					break
				}
			}
		}

		e.recordAttempt(attempt)

		attemptStart := e.clock()
		result, err := op(ctx)
		elapsed := e.clock().Sub(attemptStart)

		record := AttemptRecord{
			Attempt:  attempt,
			Duration: elapsed,
			Delay:    delay,
		}

		if err == nil {
			record.Success = true
			out.Attempts = append(out.Attempts, record)
			out.TotalAttempts = attempt
			out.Result = result
			out.Success = true
			lastErr = nil

			if attempt > 1 {
				e.logger.Info("operation succeeded after retry",
					"operation", name,
					"attempts", attempt)
			}
			break
		}

		record.Error = err.Error()
		out.Attempts = append(out.Attempts, record)
		out.TotalAttempts = attempt
		lastErr = err

		if !e.strategy.ShouldRetry(err, attempt) {
			e.logger.Debug("not retrying, giving up",
				"operation", name,
				"attempt", attempt,
				"error", err,
				"error_kind", KindOf(err))
			break
		}

		e.logger.Debug("retrying operation after delay",
			"operation", name,
			"attempt", attempt,
			"error", err)
	}

	out.TotalDuration = e.clock().Sub(start)
	if !out.Success {
		if lastErr == nil {
			lastErr = ErrDeadlineExhausted
		}
		out.Err = lastErr
		e.logger.Warn("operation failed after retries",
			"operation", name,
			"attempts", out.TotalAttempts,
			"error", lastErr)
	}

	e.recordTerminal(out.Success, lastErr)
	e.metrics.RecordOutcome(ctx, name, e.strategy.Kind(), out.TotalAttempts, out.TotalDuration, out.Err)

	return out
}

// Strategy returns the executor's strategy, mainly for inspection in tests
// and logging.
func (e *Executor[T]) Strategy() Strategy {
	return e.strategy
}

func (e *Executor[T]) recordAttempt(attempt int) {
	e.stats.mu.Lock()
	e.stats.totalAttempts++
	if attempt > 1 {
		e.stats.totalRetries++
	}
	e.stats.lastAttemptTime = e.clock()
	e.stats.mu.Unlock()
}

func (e *Executor[T]) recordTerminal(success bool, err error) {
	e.stats.mu.Lock()
	if success {
		e.stats.totalSuccesses++
	} else {
		e.stats.totalFailures++
		e.stats.lastError = err
	}
	e.stats.mu.Unlock()
}

// ExecutorStats holds cumulative statistics about executed operations.
type ExecutorStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful executions
	TotalSuccesses int64

	// TotalFailures is the number of failed executions (after all retries exhausted)
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last terminal error encountered (if any)
	LastError error
}

// Stats returns a thread-safe snapshot of the executor's cumulative
// statistics.
func (e *Executor[T]) Stats() ExecutorStats {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	return ExecutorStats{
		TotalAttempts:   e.stats.totalAttempts,
		TotalRetries:    e.stats.totalRetries,
		TotalSuccesses:  e.stats.totalSuccesses,
		TotalFailures:   e.stats.totalFailures,
		LastAttemptTime: e.stats.lastAttemptTime,
		LastError:       e.stats.lastError,
	}
}

// sleepContext waits for d using a timer so the suspension is cooperative:
// it unblocks immediately when the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
