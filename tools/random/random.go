package random

import (
	"math/rand"
	"time"
)

// #nosec G404 -- Using math/rand is acceptable for non-cryptographic randomness

// Float returns a random float64 within the specified range [min, max]
func Float(min, max float64) float64 {
	return min + rand.Float64()*(max-min) // #nosec G404
}

// Jitter spreads d uniformly over [d*(1-spread), d*(1+spread)].
// A spread outside (0, 1] returns d unchanged.
func Jitter(d time.Duration, spread float64) time.Duration {
	if d <= 0 || spread <= 0 || spread > 1 {
		return d
	}
	return time.Duration(float64(d) * Float(1-spread, 1+spread))
}
