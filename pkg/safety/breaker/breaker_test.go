package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelops/remediator/pkg/cache"
	"github.com/sentinelops/remediator/pkg/clock"
	"github.com/sentinelops/remediator/pkg/types"
)

// erroringCache fails every call, simulating a cache outage.
type erroringCache struct{ cache.Cache }

func (erroringCache) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

// Cooldown transitions are driven by real wall-clock time in both the
// Redis-backed state and the local gobreaker mirror (gobreaker has no
// injectable clock), so these tests use a real clock with a short cooldown
// and real sleeps rather than pkg/clock.Fake — mirroring
// circuit_breaker_test.go's own "time.Sleep(15 * time.Millisecond)" idiom
// for exercising the Open -> HalfOpen transition.
var _ = Describe("Breaker", func() {
	var (
		ctx         context.Context
		server      *miniredis.Miniredis
		redisClient *redis.Client
		c           cache.Cache
		realClock   clock.Clock
		cfg         types.VendorBreakerConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		server, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		redisClient = redis.NewClient(&redis.Options{Addr: server.Addr()})
		c = cache.New(redisClient)
		realClock = clock.New()
		cfg = types.VendorBreakerConfig{Threshold: 3, Cooldown: 20 * time.Millisecond, ProbeCap: 1}
	})

	AfterEach(func() {
		_ = redisClient.Close()
		server.Close()
	})

	It("starts CLOSED and admits calls", func() {
		b := New("acme-pay", cfg, c, realClock)
		allowed, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(allowed).To(BeTrue())

		st, err := b.State(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st).To(Equal(types.BreakerClosed))
	})

	It("opens after the threshold is reached and rejects further calls", func() {
		b := New("acme-pay", cfg, c, realClock)
		for i := 0; i < cfg.Threshold; i++ {
			Expect(b.RecordFailure(ctx)).To(Succeed())
		}

		st, err := b.State(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st).To(Equal(types.BreakerOpen))

		allowed, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("moves to HALF_OPEN once the cooldown elapses and admits a bounded probe", func() {
		b := New("acme-pay", cfg, c, realClock)
		for i := 0; i < cfg.Threshold; i++ {
			Expect(b.RecordFailure(ctx)).To(Succeed())
		}
		time.Sleep(cfg.Cooldown + 15*time.Millisecond)

		st, err := b.State(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st).To(Equal(types.BreakerHalfOpen))

		allowed, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(allowed).To(BeTrue(), "the first probe in HALF_OPEN must be admitted")
	})

	It("enforces probe_cap: only one probe in flight when ProbeCap=1", func() {
		b := New("acme-pay", cfg, c, realClock)
		for i := 0; i < cfg.Threshold; i++ {
			Expect(b.RecordFailure(ctx)).To(Succeed())
		}
		time.Sleep(cfg.Cooldown + 15*time.Millisecond)

		first, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(first).To(BeTrue())

		second, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(BeFalse(), "a second concurrent probe must be rejected while the first is unresolved")
	})

	It("returns to CLOSED with reset counters when a HALF_OPEN probe succeeds", func() {
		b := New("acme-pay", cfg, c, realClock)
		for i := 0; i < cfg.Threshold; i++ {
			Expect(b.RecordFailure(ctx)).To(Succeed())
		}
		time.Sleep(cfg.Cooldown + 15*time.Millisecond)
		_, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())

		Expect(b.RecordSuccess(ctx)).To(Succeed())

		st, err := b.State(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st).To(Equal(types.BreakerClosed))
	})

	It("reopens when a HALF_OPEN probe fails", func() {
		b := New("acme-pay", cfg, c, realClock)
		for i := 0; i < cfg.Threshold; i++ {
			Expect(b.RecordFailure(ctx)).To(Succeed())
		}
		time.Sleep(cfg.Cooldown + 15*time.Millisecond)
		_, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())

		Expect(b.RecordFailure(ctx)).To(Succeed())

		st, err := b.State(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st).To(Equal(types.BreakerOpen))

		allowed, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(allowed).To(BeFalse())
	})

	It("fails closed (treated as OPEN) when the cache is unavailable", func() {
		b := New("acme-pay", cfg, erroringCache{}, realClock)
		allowed, err := b.Allow(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(allowed).To(BeFalse())

		st, err := b.State(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(st).To(Equal(types.BreakerOpen))
	})

	Describe("Call", func() {
		It("executes fn and records success when it returns nil", func() {
			b := New("acme-pay", cfg, c, realClock)
			ran := false
			err := b.Call(ctx, func() error {
				ran = true
				return nil
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(ran).To(BeTrue())
		})

		It("does not execute fn once the breaker is open", func() {
			b := New("acme-pay", cfg, c, realClock)
			for i := 0; i < cfg.Threshold; i++ {
				Expect(b.RecordFailure(ctx)).To(Succeed())
			}

			ran := false
			err := b.Call(ctx, func() error {
				ran = true
				return nil
			})
			Expect(err).To(HaveOccurred())
			Expect(ran).To(BeFalse())
		})
	})
})
