package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	Fixed       = "fixed"
	Linear      = "linear"
	Exponential = "exponential"
	ExpJitter   = "exp_equal_jitter"
)

// Valid reports whether policy is a known delay policy.
func Valid(policy string) bool {
	switch policy {
	case "", Fixed, Linear, Exponential, ExpJitter:
		return true
	}
	return false
}

// Compute returns the delay before the next poll. attempts counts the polls
// already made and is expected to be >= 1. Unknown policies behave as fixed.
func Compute(policy string, base time.Duration, max time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	switch policy {
	case Linear:
		return capAt(base*time.Duration(attempts), max)
	case Exponential:
		return capAt(scale(base, attempts-1), max)
	case ExpJitter:
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		d := capAt(scale(base, attempts-1), max)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default:
		return base
	}
}

func scale(base time.Duration, exp int) time.Duration {
	f := float64(base) * math.Pow(2, float64(exp))
	if f > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capAt(d, max time.Duration) time.Duration {
	if d <= 0 || d > max {
		return max
	}
	return d
}
