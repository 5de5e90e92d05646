package triage

import "math/rand/v2"

// RandomSource supplies uniform draws in [0,1). Implementations used by a
// shared Scorer must be safe for concurrent use.
type RandomSource interface {
	Float64() float64
}

type globalSource struct{}

// Float64 uses the runtime-seeded global generator, which is safe for
// concurrent use.
func (globalSource) Float64() float64 { return rand.Float64() }

// DefaultRandom returns the process-wide concurrent-safe source.
func DefaultRandom() RandomSource { return globalSource{} }

// FixedRandom always returns the same value. Useful for tests and for the
// CLI when reproducible output is wanted.
type FixedRandom float64

func (f FixedRandom) Float64() float64 { return float64(f) }
