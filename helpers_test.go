package effects_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	effects "github.com/JohnPlummer/jp-go-effects"
)

// quietLogger keeps test output readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeClock is a manually advanced time source for breaker and deadline
// tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
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

// outcomeEvent captures one RecordOutcome call.
type outcomeEvent struct {
	operation string
	strategy  effects.StrategyKind
	attempts  int
	err       error
}

// rejectionEvent captures one RecordRejection call.
type rejectionEvent struct {
	handlerType string
	reason      string
}

// recordingMetrics is a Metrics implementation that remembers every event.
type recordingMetrics struct {
	mu         sync.Mutex
	outcomes   []outcomeEvent
	rejections []rejectionEvent
}

func (m *recordingMetrics) RecordOutcome(ctx context.Context, operation string, strategy effects.StrategyKind, attempts int, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcomeEvent{
		operation: operation,
		strategy:  strategy,
		attempts:  attempts,
		err:       err,
	})
}

func (m *recordingMetrics) RecordRejection(ctx context.Context, handlerType, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, rejectionEvent{
		handlerType: handlerType,
		reason:      reason,
	})
}

func (m *recordingMetrics) outcomeEvents() []outcomeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outcomeEvent(nil), m.outcomes...)
}

func (m *recordingMetrics) rejectionEvents() []rejectionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rejectionEvent(nil), m.rejections...)
}
