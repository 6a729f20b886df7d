// Package randsrc provides an injectable source of randomness for retry
// jitter, so tests can pin it (SPEC_FULL.md §9: explicit handles via a
// constructed root).
package randsrc

import (
	"math/rand"
	"sync"
)

// Source produces a uniform float64 in [lo, hi).
type Source interface {
	Uniform(lo, hi float64) float64
}

// Real is the production Source backed by math/rand, safe for concurrent
// use by multiple scheduler workers.
type Real struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a production Source seeded from seed. Callers typically seed
// from a real entropy source once at process start.
func New(seed int64) *Real {
	return &Real{rnd: rand.New(rand.NewSource(seed))}
}

// Uniform returns a uniform float64 in [lo, hi).
func (r *Real) Uniform(lo, hi float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.rnd.Float64()*(hi-lo)
}

// Fixed is a Source that always returns a pinned value, for deterministic
// tests of retry-delay math.
type Fixed struct {
	Value float64
}

// Uniform ignores lo/hi and returns Value unchanged, even when Value lies
// outside [lo, hi].
func (f Fixed) Uniform(lo, hi float64) float64 {
	return f.Value
}
