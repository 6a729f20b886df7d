package action

import (
	"time"

	"github.com/sentinelops/remediator/internal/config"
	"github.com/sentinelops/remediator/pkg/randsrc"
)

// delayForAttempt computes the retry delay for attempt k (1-indexed) per
// spec §4.5: base = initial*multiplier^(k-1), capped at max_delay, then
// jittered by +/-20% (a uniform fractional half-width named by the
// policy's Jitter field, so a policy can widen or narrow the band).
// This is hand-rolled against math/rand (via randsrc.Source) rather than
// adapted from a general-purpose backoff library: the spec pins an exact
// testable bound, [0.8*capped, 1.2*capped], that a library's own jitter
// strategy is not guaranteed to respect. See DESIGN.md's dropped
// dependency entry for cenkalti/backoff.
func delayForAttempt(policy config.RetryPolicy, attempt int, rnd randsrc.Source) time.Duration {
	base := float64(policy.InitialDelay) * pow(policy.Multiplier, attempt-1)
	capped := base
	if maxD := float64(policy.MaxDelay); maxD > 0 && capped > maxD {
		capped = maxD
	}
	jitter := rnd.Uniform(-policy.Jitter, policy.Jitter)
	jittered := capped * (1 + jitter)
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
