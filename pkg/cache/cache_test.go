package cache

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

var _ = Describe("RedisCache", func() {
	var (
		ctx    context.Context
		server *miniredis.Miniredis
		client *redis.Client
		cache  *RedisCache
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		server, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: server.Addr()})
		cache = New(client)
	})

	AfterEach(func() {
		_ = client.Close()
		server.Close()
	})

	Describe("Get/Set", func() {
		It("reports ok=false for a missing key", func() {
			_, ok, err := cache.Get(ctx, "missing")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("round-trips a value", func() {
			Expect(cache.Set(ctx, "k1", "v1", time.Minute)).To(Succeed())
			val, ok, err := cache.Get(ctx, "k1")
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(val).To(Equal("v1"))
		})
	})

	Describe("Incr", func() {
		It("starts at 1 and increments from there", func() {
			n, err := cache.Incr(ctx, "counter")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			n, err = cache.Incr(ctx, "counter")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
		})
	})

	Describe("CompareAndSwap", func() {
		It("swaps a missing key when oldValue is empty", func() {
			swapped, err := cache.CompareAndSwap(ctx, "state", "", "OPEN", time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(swapped).To(BeTrue())

			val, _, _ := cache.Get(ctx, "state")
			Expect(val).To(Equal("OPEN"))
		})

		It("refuses to swap when the current value doesn't match", func() {
			Expect(cache.Set(ctx, "state", "OPEN", time.Minute)).To(Succeed())

			swapped, err := cache.CompareAndSwap(ctx, "state", "CLOSED", "HALF_OPEN", time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(swapped).To(BeFalse())

			val, _, _ := cache.Get(ctx, "state")
			Expect(val).To(Equal("OPEN"), "value must be unchanged after a failed CAS")
		})

		It("swaps when the current value matches", func() {
			Expect(cache.Set(ctx, "state", "OPEN", time.Minute)).To(Succeed())

			swapped, err := cache.CompareAndSwap(ctx, "state", "OPEN", "HALF_OPEN", time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(swapped).To(BeTrue())

			val, _, _ := cache.Get(ctx, "state")
			Expect(val).To(Equal("HALF_OPEN"))
		})
	})

	Describe("AddToWindow", func() {
		It("counts events within the window and prunes older ones", func() {
			base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

			count, err := cache.AddToWindow(ctx, "win", base, time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(int64(1)))

			count, err = cache.AddToWindow(ctx, "win", base.Add(10*time.Second), time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(int64(2)))

			// A call well past the window prunes the earlier members before counting.
			count, err = cache.AddToWindow(ctx, "win", base.Add(2*time.Minute+10*time.Second), time.Minute)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
		})
	})

	Describe("Ping", func() {
		It("succeeds against a reachable server", func() {
			Expect(cache.Ping(ctx)).To(Succeed())
		})
	})
})
