package effects

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/sethvargo/go-retry"
)

// Strategy computes backoff delays and retry decisions for one RetryConfig.
// Backoff returns a fresh delay iterator per execution: the nth call to Next
// yields the delay before attempt n+1. ShouldRetry decides whether a failed
// attempt should be followed by another.
type Strategy interface {
	Kind() StrategyKind
	Backoff() retry.Backoff
	ShouldRetry(err error, attempt int) bool
}

// NewStrategy builds the Strategy variant selected by the config's strategy
// tag. Selecting StrategyCustom without a delay function is a construction
// error.
func NewStrategy(cfg *RetryConfig) (Strategy, error) {
	if cfg == nil {
		return nil, errors.New("retry config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := decider{cfg: cfg}
	switch cfg.Strategy {
	case StrategyLinear:
		return &linearStrategy{decider: base}, nil
	case StrategyExponential:
		return &exponentialStrategy{decider: base}, nil
	case StrategyJitteredExponential:
		return &jitteredExponentialStrategy{decider: base}, nil
	case StrategyFibonacci:
		return &fibonacciStrategy{decider: base}, nil
	case StrategyCustom:
		return &customStrategy{decider: base}, nil
	default:
		// Unreachable after Validate, kept for exhaustiveness.
		return nil, errors.New("unknown retry strategy")
	}
}

// decider implements the retry decision shared by every strategy variant.
type decider struct {
	cfg *RetryConfig
}

// ShouldRetry returns false once the attempt cap is reached, then checks the
// non-retryable kinds (which always win), then applies the retry-decision
// mode. Context cancellation is never retryable: retrying with the same
// context would fail immediately.
func (d decider) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= d.cfg.MaxAttempts {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	kind := KindOf(err)
	if containsKind(d.cfg.NonRetryableKinds, kind) {
		return false
	}

	if d.cfg.Condition == RetryAnyError {
		return true
	}
	return containsKind(d.cfg.RetryableKinds, kind)
}

type linearStrategy struct {
	decider
}

func (s *linearStrategy) Kind() StrategyKind { return StrategyLinear }

func (s *linearStrategy) Backoff() retry.Backoff {
	base := s.cfg.BaseDelay
	attempt := 0
	b := retry.WithCappedDuration(s.cfg.MaxDelay, retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return base * time.Duration(attempt), false
	}))
	return s.cfg.jittered(b)
}

type exponentialStrategy struct {
	decider
}

func (s *exponentialStrategy) Kind() StrategyKind { return StrategyExponential }

func (s *exponentialStrategy) Backoff() retry.Backoff {
	b := retry.WithCappedDuration(s.cfg.MaxDelay, newMultiplierBackoff(s.cfg.BaseDelay, s.cfg.Multiplier))
	return s.cfg.jittered(b)
}

type jitteredExponentialStrategy struct {
	decider
}

func (s *jitteredExponentialStrategy) Kind() StrategyKind { return StrategyJitteredExponential }

// Backoff draws each delay uniformly from [0, ceiling] where ceiling is the
// clamped exponential delay. The generic bounded jitter does not apply on
// top; full jitter already randomizes the whole range.
func (s *jitteredExponentialStrategy) Backoff() retry.Backoff {
	ceiling := retry.WithCappedDuration(s.cfg.MaxDelay, newMultiplierBackoff(s.cfg.BaseDelay, s.cfg.Multiplier))
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := ceiling.Next()
		if stop || d <= 0 {
			return d, stop
		}
		return randomDuration(d), false
	})
}

type fibonacciStrategy struct {
	decider
}

func (s *fibonacciStrategy) Kind() StrategyKind { return StrategyFibonacci }

func (s *fibonacciStrategy) Backoff() retry.Backoff {
	// Yields base*fib(n) with fib(1) = fib(2) = 1: base, base, 2*base, ...
	prev, next := time.Duration(0), s.cfg.BaseDelay
	b := retry.WithCappedDuration(s.cfg.MaxDelay, retry.BackoffFunc(func() (time.Duration, bool) {
		prev, next = next, prev+next
		return prev, false
	}))
	return s.cfg.jittered(b)
}

type customStrategy struct {
	decider
}

func (s *customStrategy) Kind() StrategyKind { return StrategyCustom }

// Backoff clamps the injected function to MaxDelay. No jitter is added; the
// function owns its own randomness if it wants any.
func (s *customStrategy) Backoff() retry.Backoff {
	fn := s.cfg.CustomDelay
	attempt := 0
	return retry.WithCappedDuration(s.cfg.MaxDelay, retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		d := fn(attempt)
		if d < 0 {
			d = 0
		}
		return d, false
	}))
}

// newMultiplierBackoff yields baseDelay * multiplier^n for n = 0, 1, 2, ...
// retry.NewExponential always doubles, so non-2.0 multipliers are computed
// directly.
func newMultiplierBackoff(baseDelay time.Duration, multiplier float64) retry.Backoff {
	if multiplier == 2.0 && baseDelay > 0 {
		return retry.NewExponential(baseDelay)
	}

	delay := float64(baseDelay)
	first := true
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if first {
			first = false
			return baseDelay, false
		}
		delay *= multiplier
		if delay > float64(1<<62) {
			return time.Duration(1 << 62), false
		}
		return time.Duration(delay), false
	})
}

// jittered wraps a backoff with the generic bounded jitter: a uniform random
// amount in [0, min(JitterMax, delay/10)] is added to each delay. Returns the
// backoff unchanged when jitter is disabled.
func (c *RetryConfig) jittered(next retry.Backoff) retry.Backoff {
	if !c.JitterEnabled {
		return next
	}
	jitterMax := c.JitterMax
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if stop || d <= 0 {
			return d, stop
		}
		bound := d / 10
		if jitterMax < bound {
			bound = jitterMax
		}
		if bound <= 0 {
			return d, false
		}
		return d + randomDuration(bound), false
	})
}

// randomDuration returns a uniform random duration in [0, max] using
// crypto/rand. Falls back to zero jitter if the source fails.
func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)+1))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
