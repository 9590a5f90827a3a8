package effects_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	effects "github.com/JohnPlummer/jp-go-effects"
)

// pullDelays drains n delays from a fresh backoff iterator.
func pullDelays(s effects.Strategy, n int) []time.Duration {
	backoff := s.Backoff()
	delays := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		d, stop := backoff.Next()
		Expect(stop).To(BeFalse())
		delays = append(delays, d)
	}
	return delays
}

var _ = Describe("Strategy", func() {
	var cfg *effects.RetryConfig

	BeforeEach(func() {
		cfg = effects.DefaultRetryConfig()
		cfg.JitterEnabled = false
	})

	Describe("NewStrategy", func() {
		It("rejects a nil config", func() {
			_, err := effects.NewStrategy(nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects an unknown strategy kind", func() {
			cfg.Strategy = effects.StrategyKind("bogus")
			_, err := effects.NewStrategy(cfg)
			Expect(err).To(HaveOccurred())
		})

		It("rejects the custom strategy without a delay function", func() {
			cfg.Strategy = effects.StrategyCustom
			cfg.CustomDelay = nil
			_, err := effects.NewStrategy(cfg)
			Expect(err).To(MatchError(ContainSubstring("delay function")))
		})

		It("rejects max delay below base delay", func() {
			cfg.BaseDelay = 2 * time.Second
			cfg.MaxDelay = time.Second
			_, err := effects.NewStrategy(cfg)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("linear", func() {
		It("grows the delay linearly and clamps at max delay", func() {
			cfg.Strategy = effects.StrategyLinear
			cfg.BaseDelay = 100 * time.Millisecond
			cfg.MaxDelay = 250 * time.Millisecond

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 4)
			Expect(delays).To(Equal([]time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				250 * time.Millisecond,
				250 * time.Millisecond,
			}))
		})
	})

	Describe("exponential", func() {
		It("produces the ceiling sequence base * multiplier^(attempt-1)", func() {
			cfg.Strategy = effects.StrategyExponential
			cfg.BaseDelay = time.Second
			cfg.MaxDelay = 30 * time.Second
			cfg.Multiplier = 2.0

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 3)
			Expect(delays).To(Equal([]time.Duration{
				time.Second,
				2 * time.Second,
				4 * time.Second,
			}))
		})

		It("supports non-doubling multipliers", func() {
			cfg.Strategy = effects.StrategyExponential
			cfg.BaseDelay = 100 * time.Millisecond
			cfg.MaxDelay = time.Minute
			cfg.Multiplier = 3.0

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 3)
			Expect(delays).To(Equal([]time.Duration{
				100 * time.Millisecond,
				300 * time.Millisecond,
				900 * time.Millisecond,
			}))
		})

		It("never exceeds max delay", func() {
			cfg.Strategy = effects.StrategyExponential
			cfg.BaseDelay = time.Second
			cfg.MaxDelay = 5 * time.Second
			cfg.Multiplier = 2.0

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			for _, d := range pullDelays(s, 10) {
				Expect(d).To(BeNumerically("<=", 5*time.Second))
			}
		})

		It("is monotonically non-decreasing without jitter", func() {
			cfg.Strategy = effects.StrategyExponential
			cfg.BaseDelay = 10 * time.Millisecond
			cfg.MaxDelay = time.Second

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 10)
			for i := 1; i < len(delays); i++ {
				Expect(delays[i]).To(BeNumerically(">=", delays[i-1]))
			}
		})
	})

	Describe("fibonacci", func() {
		It("produces base * fib(attempt) with fib(1)=fib(2)=1", func() {
			cfg.Strategy = effects.StrategyFibonacci
			cfg.BaseDelay = time.Second
			cfg.MaxDelay = time.Minute

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 5)
			Expect(delays).To(Equal([]time.Duration{
				time.Second,
				time.Second,
				2 * time.Second,
				3 * time.Second,
				5 * time.Second,
			}))
		})

		It("clamps at max delay", func() {
			cfg.Strategy = effects.StrategyFibonacci
			cfg.BaseDelay = time.Second
			cfg.MaxDelay = 4 * time.Second

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 6)
			Expect(delays[5]).To(Equal(4 * time.Second))
		})
	})

	Describe("jittered exponential", func() {
		It("draws each delay uniformly from [0, ceiling]", func() {
			cfg.Strategy = effects.StrategyJitteredExponential
			cfg.BaseDelay = time.Second
			cfg.MaxDelay = 8 * time.Second
			cfg.Multiplier = 2.0

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			ceilings := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
			backoff := s.Backoff()
			for _, ceiling := range ceilings {
				d, stop := backoff.Next()
				Expect(stop).To(BeFalse())
				Expect(d).To(BeNumerically(">=", time.Duration(0)))
				Expect(d).To(BeNumerically("<=", ceiling))
			}
		})
	})

	Describe("custom", func() {
		It("clamps the injected delay to max delay", func() {
			cfg.Strategy = effects.StrategyCustom
			cfg.BaseDelay = 0
			cfg.MaxDelay = time.Second
			cfg.CustomDelay = func(attempt int) time.Duration {
				return time.Duration(attempt) * 700 * time.Millisecond
			}

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			delays := pullDelays(s, 2)
			Expect(delays).To(Equal([]time.Duration{
				700 * time.Millisecond,
				time.Second,
			}))
		})
	})

	Describe("bounded jitter", func() {
		It("adds at most min(jitter max, delay/10)", func() {
			cfg.Strategy = effects.StrategyLinear
			cfg.BaseDelay = time.Second
			cfg.MaxDelay = time.Minute
			cfg.JitterEnabled = true
			cfg.JitterMax = 50 * time.Millisecond

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			backoff := s.Backoff()
			for i := 1; i <= 5; i++ {
				base := time.Duration(i) * time.Second
				d, stop := backoff.Next()
				Expect(stop).To(BeFalse())
				Expect(d).To(BeNumerically(">=", base))
				Expect(d).To(BeNumerically("<=", base+50*time.Millisecond))
			}
		})

		It("uses delay/10 as the bound when jitter max is larger", func() {
			cfg.Strategy = effects.StrategyLinear
			cfg.BaseDelay = 100 * time.Millisecond
			cfg.MaxDelay = time.Minute
			cfg.JitterEnabled = true
			cfg.JitterMax = time.Hour

			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			backoff := s.Backoff()
			d, stop := backoff.Next()
			Expect(stop).To(BeFalse())
			Expect(d).To(BeNumerically(">=", 100*time.Millisecond))
			Expect(d).To(BeNumerically("<=", 110*time.Millisecond))
		})
	})

	Describe("ShouldRetry", func() {
		var boom error

		BeforeEach(func() {
			boom = errors.New("boom")
		})

		It("returns false for a nil error", func() {
			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.ShouldRetry(nil, 1)).To(BeFalse())
		})

		It("returns false once the attempt cap is reached", func() {
			cfg.MaxAttempts = 3
			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.ShouldRetry(boom, 2)).To(BeTrue())
			Expect(s.ShouldRetry(boom, 3)).To(BeFalse())
			Expect(s.ShouldRetry(boom, 4)).To(BeFalse())
		})

		It("retries any failure under RetryAnyError", func() {
			cfg.Condition = effects.RetryAnyError
			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.ShouldRetry(boom, 1)).To(BeTrue())
		})

		It("retries only listed kinds under RetryNamedKinds", func() {
			cfg.Condition = effects.RetryNamedKinds
			cfg.RetryableKinds = []effects.ErrorKind{effects.KindTimeout}
			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			timeout := effects.WrapKind(effects.KindTimeout, boom)
			conflict := effects.WrapKind(effects.KindConflict, boom)

			Expect(s.ShouldRetry(timeout, 1)).To(BeTrue())
			Expect(s.ShouldRetry(conflict, 1)).To(BeFalse())
			Expect(s.ShouldRetry(boom, 1)).To(BeFalse()) // KindUnknown, not listed
		})

		It("lets non-retryable kinds win even when also listed retryable", func() {
			cfg.Condition = effects.RetryNamedKinds
			cfg.RetryableKinds = []effects.ErrorKind{effects.KindTimeout}
			cfg.NonRetryableKinds = []effects.ErrorKind{effects.KindTimeout}
			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			timeout := effects.WrapKind(effects.KindTimeout, boom)
			Expect(s.ShouldRetry(timeout, 1)).To(BeFalse())
		})

		It("blocks non-retryable kinds under RetryAnyError too", func() {
			cfg.Condition = effects.RetryAnyError
			cfg.NonRetryableKinds = []effects.ErrorKind{effects.KindValidation}
			s, err := effects.NewStrategy(cfg)
			Expect(err).NotTo(HaveOccurred())

			invalid := effects.WrapKind(effects.KindValidation, boom)
			Expect(s.ShouldRetry(invalid, 1)).To(BeFalse())
			Expect(s.ShouldRetry(boom, 1)).To(BeTrue())
		})
	})
})
