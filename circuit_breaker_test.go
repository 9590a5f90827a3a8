package effects_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	effects "github.com/JohnPlummer/jp-go-effects"
)

var _ = Describe("CircuitBreaker", func() {
	var clock *fakeClock

	BeforeEach(func() {
		clock = newFakeClock()
	})

	newBreaker := func(opts ...effects.BreakerOption) *effects.CircuitBreaker {
		base := []effects.BreakerOption{
			effects.WithBreakerClock(clock.Now),
			effects.WithBreakerLogger(quietLogger()),
			effects.WithFailureThreshold(5),
			effects.WithSuccessThreshold(2),
			effects.WithFailureRateThreshold(1.0),
			effects.WithMinimumRequests(5),
			effects.WithWindowSize(60 * time.Second),
			effects.WithBreakerTimeout(60 * time.Second),
			effects.WithHalfOpenMaxRequests(3),
		}
		cb, err := effects.NewCircuitBreaker("downstream", append(base, opts...)...)
		Expect(err).NotTo(HaveOccurred())
		return cb
	}

	Describe("NewCircuitBreaker", func() {
		It("rejects out-of-range thresholds", func() {
			_, err := effects.NewCircuitBreaker("x", effects.WithFailureThreshold(0))
			Expect(err).To(HaveOccurred())

			_, err = effects.NewCircuitBreaker("x", effects.WithSuccessThreshold(21))
			Expect(err).To(HaveOccurred())

			_, err = effects.NewCircuitBreaker("x", effects.WithFailureRateThreshold(1.5))
			Expect(err).To(HaveOccurred())

			_, err = effects.NewCircuitBreaker("x", effects.WithBreakerTimeout(time.Second))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("opening", func() {
		It("opens after the failure threshold with no successes", func() {
			cb := newBreaker()

			for i := 0; i < 4; i++ {
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(effects.StateClosed))
			}
			cb.RecordFailure()

			Expect(cb.State()).To(Equal(effects.StateOpen))
			Expect(cb.Allow()).To(BeFalse())
		})

		It("never opens below the minimum request threshold", func() {
			cb := newBreaker(
				effects.WithFailureThreshold(2),
				effects.WithMinimumRequests(10),
			)

			for i := 0; i < 9; i++ {
				cb.RecordFailure()
			}
			Expect(cb.State()).To(Equal(effects.StateClosed))

			cb.RecordFailure()
			Expect(cb.State()).To(Equal(effects.StateOpen))
		})

		It("opens on failure rate once the minimum is met", func() {
			cb := newBreaker(
				effects.WithFailureThreshold(100),
				effects.WithFailureRateThreshold(0.5),
				effects.WithMinimumRequests(4),
			)

			cb.RecordSuccess()
			cb.RecordSuccess()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(effects.StateClosed))

			cb.RecordFailure() // 2 failures / 4 requests = 0.5
			Expect(cb.State()).To(Equal(effects.StateOpen))
		})
	})

	Describe("open state", func() {
		It("denies until the timeout elapses, then admits a half-open probe", func() {
			cb := newBreaker()
			cb.ForceOpen()

			Expect(cb.Allow()).To(BeFalse())

			clock.Advance(59 * time.Second)
			Expect(cb.Allow()).To(BeFalse())

			clock.Advance(time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(effects.StateHalfOpen))
		})
	})

	Describe("half-open state", func() {
		openAndProbe := func(cb *effects.CircuitBreaker) {
			cb.ForceOpen()
			clock.Advance(60 * time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(effects.StateHalfOpen))
		}

		It("reopens on a single failure", func() {
			cb := newBreaker()
			openAndProbe(cb)

			cb.RecordFailure()
			Expect(cb.State()).To(Equal(effects.StateOpen))
			Expect(cb.Allow()).To(BeFalse())
		})

		It("closes after the success threshold and resets all counters", func() {
			cb := newBreaker(effects.WithSuccessThreshold(2))
			openAndProbe(cb)

			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(effects.StateHalfOpen))

			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(effects.StateClosed))

			counts := cb.Counts()
			Expect(counts.FailureCount).To(BeZero())
			Expect(counts.SuccessCount).To(BeZero())
			Expect(counts.TotalRequests).To(BeZero())
			Expect(counts.HalfOpenRequests).To(BeZero())
		})

		It("caps admissions at half-open max requests", func() {
			cb := newBreaker(effects.WithHalfOpenMaxRequests(2))
			cb.ForceOpen()
			clock.Advance(60 * time.Second)

			Expect(cb.Allow()).To(BeTrue()) // promotion consumes the first probe slot
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.Allow()).To(BeFalse())
		})
	})

	Describe("FailureRate", func() {
		It("returns failures over total requests", func() {
			cb := newBreaker(effects.WithFailureThreshold(100), effects.WithMinimumRequests(100))

			for i := 0; i < 7; i++ {
				cb.RecordSuccess()
			}
			for i := 0; i < 3; i++ {
				cb.RecordFailure()
			}

			Expect(cb.FailureRate()).To(Equal(0.3))
		})

		It("returns zero with no requests", func() {
			cb := newBreaker()
			Expect(cb.FailureRate()).To(BeZero())
		})
	})

	Describe("sliding window", func() {
		It("drops stale failure data once the last failure leaves the window", func() {
			cb := newBreaker(effects.WithWindowSize(60 * time.Second))

			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.Counts().FailureCount).To(Equal(2))

			clock.Advance(61 * time.Second)
			cb.RecordSuccess()

			counts := cb.Counts()
			Expect(counts.FailureCount).To(BeZero())
			Expect(counts.TotalRequests).To(Equal(1))
		})

		It("keeps failure data current within the window", func() {
			cb := newBreaker(effects.WithWindowSize(60 * time.Second))

			cb.RecordFailure()
			clock.Advance(30 * time.Second)
			cb.RecordFailure()

			Expect(cb.Counts().FailureCount).To(Equal(2))
		})
	})

	Describe("RecordSlowCall", func() {
		It("treats calls at or above the threshold as failures", func() {
			cb := newBreaker(
				effects.WithSlowCallThreshold(2*time.Second),
				effects.WithFailureThreshold(1),
				effects.WithMinimumRequests(1),
			)

			cb.RecordSlowCall(time.Second)
			Expect(cb.State()).To(Equal(effects.StateClosed))
			Expect(cb.Counts().FailureCount).To(BeZero())

			cb.RecordSlowCall(2 * time.Second)
			Expect(cb.State()).To(Equal(effects.StateOpen))
		})

		It("is a no-op without a configured threshold", func() {
			cb := newBreaker()
			cb.RecordSlowCall(time.Hour)
			Expect(cb.Counts().FailureCount).To(BeZero())
		})
	})

	Describe("manual overrides", func() {
		It("forces open and close regardless of counters", func() {
			cb := newBreaker()

			cb.ForceOpen()
			Expect(cb.State()).To(Equal(effects.StateOpen))
			Expect(cb.Allow()).To(BeFalse())

			cb.ForceClose()
			Expect(cb.State()).To(Equal(effects.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("resets to closed with zeroed counters", func() {
			cb := newBreaker()
			for i := 0; i < 5; i++ {
				cb.RecordFailure()
			}
			Expect(cb.State()).To(Equal(effects.StateOpen))

			cb.Reset()
			Expect(cb.State()).To(Equal(effects.StateClosed))

			counts := cb.Counts()
			Expect(counts.FailureCount).To(BeZero())
			Expect(counts.SuccessCount).To(BeZero())
			Expect(counts.TotalRequests).To(BeZero())
		})
	})

	Describe("disabled breaker", func() {
		It("always admits and never records", func() {
			cb := newBreaker(effects.WithBreakerEnabled(false))

			for i := 0; i < 20; i++ {
				cb.RecordFailure()
			}

			Expect(cb.State()).To(Equal(effects.StateDisabled))
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.Counts().FailureCount).To(BeZero())
		})
	})

	Describe("state change callback", func() {
		It("reports transitions with from and to states", func() {
			type change struct {
				from, to effects.BreakerState
			}
			var mu sync.Mutex
			var changes []change

			cb := newBreaker(effects.WithStateChangeHandler(func(name string, from, to effects.BreakerState) {
				mu.Lock()
				defer mu.Unlock()
				Expect(name).To(Equal("downstream"))
				changes = append(changes, change{from, to})
			}))

			for i := 0; i < 5; i++ {
				cb.RecordFailure()
			}
			clock.Advance(60 * time.Second)
			Expect(cb.Allow()).To(BeTrue())

			mu.Lock()
			defer mu.Unlock()
			Expect(changes).To(Equal([]change{
				{effects.StateClosed, effects.StateOpen},
				{effects.StateOpen, effects.StateHalfOpen},
			}))
		})
	})

	Describe("concurrency", func() {
		It("keeps counters consistent under concurrent records", func() {
			cb := newBreaker(
				effects.WithFailureThreshold(100),
				effects.WithMinimumRequests(1000),
				effects.WithFailureRateThreshold(1.0),
			)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 50; j++ {
						cb.RecordFailure()
						cb.RecordSuccess()
						cb.Allow()
					}
				}()
			}
			wg.Wait()

			counts := cb.Counts()
			Expect(counts.TotalRequests).To(Equal(1000))
			Expect(counts.FailureCount).To(Equal(500))
		})
	})

	Describe("Health", func() {
		It("reports unhealthy only when open", func() {
			cb := newBreaker()
			Expect(cb.Health().Healthy).To(BeTrue())

			cb.ForceOpen()
			health := cb.Health()
			Expect(health.Healthy).To(BeFalse())
			Expect(health.State).To(Equal("open"))
		})

		It("reports state and counters from one snapshot", func() {
			cb := newBreaker()
			for i := 0; i < 5; i++ {
				cb.RecordFailure()
			}

			health := cb.Health()
			Expect(health.State).To(Equal("open"))
			Expect(health.FailureCount).To(Equal(5))
			Expect(health.TotalRequests).To(Equal(5))
			Expect(health.FailureRate).To(Equal(1.0))
		})

		It("never tears the snapshot under concurrent transitions", func() {
			cb := newBreaker()

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 200; i++ {
					for j := 0; j < 5; j++ {
						cb.RecordFailure()
					}
					cb.Reset()
				}
			}()

			// With a threshold of 5 and no window expiry, an open breaker
			// always holds at least 5 window failures; a torn read would pair
			// "open" with counters already zeroed by Reset.
			for i := 0; i < 500; i++ {
				health := cb.Health()
				if health.State == "open" {
					Expect(health.FailureCount).To(BeNumerically(">=", 5))
				}
				Expect(health.Healthy).To(Equal(health.State != "open"))
			}
			<-done
		})
	})
})
